package main

import (
	"context"
	"fmt"

	"github.com/wingie/webagent/browser"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/mcp"
	"github.com/wingie/webagent/tool"
)

// deploymentTools declares the web-automation actions this server ships with.
// Everything runs through the Automator so a real browser can replace the
// canned one without touching the tools.
func deploymentTools(automator browser.Automator) []tool.Registration {
	return []tool.Registration{
		tool.New("browseWebAndReturnText",
			"Browse the web following plain-English instructions and return the text found. "+
				"Describe the whole task in one message: the site to visit, any interactions, and what to extract.",
			[]tool.Param{{
				Name:        "provideAllValuesInPlainEnglish",
				Type:        tool.ParamTypeString,
				Required:    true,
				Description: "The full browsing task in plain English",
				Example:     "Go to example.com and return the main article text",
			}},
			func(ctx context.Context, args tool.Args) (any, error) {
				return automator.Browse(ctx, args.String(0))
			}),

		tool.New("browseWebAndReturnImage",
			"Browse the web following plain-English instructions and return a PNG screenshot of the result.",
			[]tool.Param{{
				Name:        "provideAllValuesInPlainEnglish",
				Type:        tool.ParamTypeString,
				Required:    true,
				Description: "The full browsing task in plain English",
				Example:     "Open example.com and capture the pricing table",
			}},
			func(ctx context.Context, args tool.Args) (any, error) {
				return automator.Screenshot(ctx, args.String(0))
			}),

		tool.New("takeCurrentPageScreenshot",
			"Capture a PNG screenshot of the page the browser is currently on.",
			nil,
			func(ctx context.Context, args tool.Args) (any, error) {
				return automator.Screenshot(ctx, "Capture the current page as it is")
			}),

		tool.New("searchLinkedInProfile",
			"Search LinkedIn for a person or company profile and return a text summary of the top match.",
			[]tool.Param{{
				Name:        "query",
				Type:        tool.ParamTypeString,
				Required:    true,
				Pattern:     `^[A-Za-z][A-Za-z0-9 .,'-]{1,98}$`,
				Description: "Person or company name to search for",
				Example:     "Jane Doe",
			}},
			func(ctx context.Context, args tool.Args) (any, error) {
				return automator.Browse(ctx, fmt.Sprintf("Search LinkedIn for the profile %q and summarize it", args.String(0)))
			}),

		tool.New("askTasteBeforeYouWaste",
			"Answer food-waste questions (edibility, storage, shelf life) from tastebeforeyouwaste.org.",
			[]tool.Param{
				{
					Name:        "foodQuery",
					Type:        tool.ParamTypeString,
					Required:    true,
					Description: "The food question, e.g. how to tell if eggs are still good",
					Example:     "Are sprouted potatoes safe to eat?",
				},
				{
					Name:        "language",
					Type:        tool.ParamTypeString,
					Default:     aids.New("en"),
					Description: "Answer language code",
				},
			},
			func(ctx context.Context, args tool.Args) (any, error) {
				return automator.Browse(ctx, fmt.Sprintf(
					"Look up on tastebeforeyouwaste.org: %s (answer in language %q)", args.String(0), args.String(1)))
			}),

		tool.New("getTasteBeforeYouWasteScreenshot",
			"Return a link to the current tastebeforeyouwaste.org food guide page as an image.",
			nil,
			func(ctx context.Context, args tool.Args) (any, error) {
				return mcp.NewImageURLContent("https://tastebeforeyouwaste.org/foodguide/screenshot.png", "image/png"), nil
			}),

		tool.New("webPageAction",
			"Perform one action on a web page: browse it, click an element, or extract its content. "+
				"Returns a full-page screenshot when fullPage is set, text otherwise.",
			[]tool.Param{
				{
					Name:        "action",
					Type:        tool.ParamTypeString,
					Required:    true,
					Enum:        []string{"browse", "click", "extract"},
					Description: "What to do on the page",
				},
				{
					Name:        "url",
					Type:        tool.ParamTypeString,
					Required:    true,
					Pattern:     `^https?://`,
					Description: "Address of the page to act on",
					Example:     "https://example.com",
				},
				{
					Name:        "waitSeconds",
					Type:        tool.ParamTypeInteger,
					Default:     aids.New("5"),
					Min:         aids.New(float64(0)),
					Max:         aids.New(float64(60)),
					Description: "Seconds to wait for the page to settle before acting",
				},
				{
					Name:        "fullPage",
					Type:        tool.ParamTypeBoolean,
					Description: "Capture the whole page as a screenshot instead of returning text",
				},
				{
					Name:        "metadata",
					Type:        tool.ParamTypeObject,
					Description: "Optional action hints, e.g. a CSS selector for click",
				},
			},
			func(ctx context.Context, args tool.Args) (any, error) {
				action, url := args.String(0), args.String(1)
				wait, fullPage, metadata := args.Int(2), args.Bool(3), args.Object(4)
				instructions := fmt.Sprintf("On %s: %s after waiting %d seconds", url, action, wait)
				if len(metadata) > 0 {
					instructions += fmt.Sprintf(" (hints: %v)", metadata)
				}
				if fullPage {
					return automator.Screenshot(ctx, instructions)
				}
				return automator.Browse(ctx, instructions)
			}),
	}
}
