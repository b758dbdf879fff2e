package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/wingie/webagent/browser"
	"github.com/wingie/webagent/task"
)

// screenshotRef turns captured PNG bytes into a self-contained reference.
// Deployments with blob storage can swap this for an upload-and-URL scheme.
func screenshotRef(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// newWebBrowseProcessor handles the web_browse task type: one browse pass
// over the query with a screenshot and the extracted text as the result.
func newWebBrowseProcessor(automator browser.Automator) task.Processor {
	return task.ProcessorFunc(func(ctx context.Context, run *task.Run) error {
		e, ok := run.Execution()
		if !ok {
			return fmt.Errorf("task record missing for %s", run.TaskID())
		}

		run.Progress(25, "Opening page")
		text, err := automator.Browse(ctx, e.OriginalQuery)
		if err != nil {
			return err
		}
		if run.Cancelled() {
			return nil
		}

		run.Progress(75, "Extracting content")
		if shot, err := automator.Screenshot(ctx, e.OriginalQuery); err == nil {
			run.Screenshot(screenshotRef(shot))
		}
		run.SetResults(text)
		return nil
	})
}

// newTravelResearchProcessor handles the travel_research task type: flight,
// hotel, and attraction phases, each with a progress update and a screenshot.
func newTravelResearchProcessor(automator browser.Automator) task.Processor {
	return task.ProcessorFunc(func(ctx context.Context, run *task.Run) error {
		e, ok := run.Execution()
		if !ok {
			return fmt.Errorf("task record missing for %s", run.TaskID())
		}

		phases := []struct {
			percent      int
			message      string
			instructions string
		}{
			{25, "Researching flights", "Find flight options for: " + e.OriginalQuery},
			{50, "Researching hotels", "Find hotel options for: " + e.OriginalQuery},
			{75, "Researching attractions", "Find attractions and activities for: " + e.OriginalQuery},
		}

		sections := make([]string, 0, len(phases))
		for _, phase := range phases {
			if run.Cancelled() {
				return nil
			}
			run.Progress(phase.percent, phase.message)
			text, err := automator.Browse(ctx, phase.instructions)
			if err != nil {
				return err
			}
			if shot, err := automator.Screenshot(ctx, phase.instructions); err == nil {
				run.Screenshot(screenshotRef(shot))
			}
			sections = append(sections, phase.message+":\n"+text)
		}
		run.SetResults(strings.Join(sections, "\n\n"))
		return nil
	})
}
