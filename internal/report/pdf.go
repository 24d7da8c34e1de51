package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// PDFRenderer turns a markdown summary into a printed PDF via headless
// Chromium.
type PDFRenderer struct {
	chromePath string
}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{chromePath: detectChromePath()}
}

const reportCSS = `
body{font-family:Georgia,serif;font-size:12px;color:#1a1a1a;max-width:960px;margin:0 auto;padding:1rem;}
h1{font-size:20px;border-bottom:2px solid #1e3a5f;padding-bottom:6px;}
h2{font-size:15px;color:#1e3a5f;margin-top:1.4em;}
table{border-collapse:collapse;width:100%;margin:0.6em 0;}
th,td{border:1px solid #cbd5e1;padding:4px 8px;text-align:left;font-size:11px;}
th{background:#f1f5f9;}
blockquote{border-left:3px solid #b91c1c;margin:0.5em 0;padding:0.2em 0.8em;color:#7f1d1d;}
`

func (r *PDFRenderer) Render(ctx context.Context, markdown string) ([]byte, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return nil, fmt.Errorf("markdown convert: %w", err)
	}
	htmlDoc := "<!doctype html><html><head><meta charset='utf-8'><title>Packet Review</title>" +
		"<style>" + reportCSS +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}" +
		"</style></head><body>" + content.String() + "</body></html>"

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
		`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.5).
				WithPaperHeight(11).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.5).
				WithMarginRight(0.5).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/usr/bin/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
