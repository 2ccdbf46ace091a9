package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/humblenginr/docconvert/sched"
)

// RenderKind names a conversion function exposed by the rendering page.
type RenderKind string

const (
	ConvertDocbook        RenderKind = "convertDocbook"
	ConvertDocbookArticle RenderKind = "convertDocbookArticle"
	ConvertHTMLBook       RenderKind = "convertHtmlBook"
	ConvertHTMLArticle    RenderKind = "convertHtmlArticle"
	ConvertSlide          RenderKind = "convertSlide"
	ConvertBasicHTML      RenderKind = "convertBasicHtml"
	FindRenderedSelection RenderKind = "findRenderedSelection"
)

// RefreshUI pushes freshly rendered content into the page.
func (e *Executor) RefreshUI(ctx context.Context, content string) *sched.Future[struct{}] {
	return onUI(e, ctx, func() (struct{}, error) {
		if err := e.surface.SetGlobal("lastRenderedValue", content); err != nil {
			return struct{}{}, err
		}
		_, err := e.surface.ExecuteScript("refreshUI(lastRenderedValue)")
		return struct{}{}, err
	})
}

// StartProgressBar always queues, even from the UI context, so the bar shows
// after the current UI task returns.
func (e *Executor) StartProgressBar(ctx context.Context) *sched.Future[struct{}] {
	return e.script(ctx, "startProgressBar()")
}

func (e *Executor) StopProgressBar(ctx context.Context) *sched.Future[struct{}] {
	return e.script(ctx, "stopProgressBar()")
}

func (e *Executor) script(ctx context.Context, src string) *sched.Future[struct{}] {
	return e.sched.SubmitUI(ctx, func(context.Context) error {
		_, err := e.surface.ExecuteScript(src)
		return err
	})
}

// Render runs the page's conversion function kind over content. Only
// ConvertDocbook reads includeHeader.
func (e *Executor) Render(ctx context.Context, kind RenderKind, content string, includeHeader bool) *sched.Future[string] {
	global, call := "editorValue", string(kind)+"(editorValue)"
	switch kind {
	case ConvertDocbook:
		call = fmt.Sprintf("convertDocbook(editorValue,%t)", includeHeader)
	case FindRenderedSelection:
		global, call = "context", "findRenderedSelection(context)"
	case ConvertDocbookArticle, ConvertHTMLBook, ConvertHTMLArticle, ConvertSlide, ConvertBasicHTML:
	default:
		return sched.Failed[string](fmt.Errorf("%w: %q", ErrBadFunction, kind))
	}
	return onUI(e, ctx, func() (string, error) {
		if err := e.surface.SetGlobal(global, content); err != nil {
			return "", err
		}
		v, err := e.surface.ExecuteScript(call)
		if err != nil {
			return "", fmt.Errorf("%s: %w", kind, err)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: %s returned %T", ErrResultType, kind, v)
		}
		return s, nil
	})
}

const scriptElement = `var scriptEl = document.createElement('script');
scriptEl.setAttribute('src','%s/%s');
document.querySelector('body').appendChild(scriptEl);`

// LoadScripts appends a script element for each path, one UI task per path,
// in order.
func (e *Executor) LoadScripts(ctx context.Context, baseURL string, paths ...string) *sched.Future[[]struct{}] {
	base := strings.TrimRight(baseURL, "/")
	fs := make([]*sched.Future[struct{}], 0, len(paths))
	for _, p := range paths {
		src := fmt.Sprintf(scriptElement, base, strings.TrimLeft(p, "/"))
		fs = append(fs, e.script(ctx, src))
	}
	return sched.All(fs...)
}
