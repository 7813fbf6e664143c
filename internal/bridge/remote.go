package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/pinboard/internal/models"
)

// remote is one card's window and content host seen through the bridge.
type remote struct {
	b  *Bridge
	id models.CardID
	s  *session
}

func (r *remote) WaitReady(ctx context.Context) error {
	return r.b.await(ctx, r.id, SignalReady, r.s.ready)
}

func (r *remote) WaitBooted(ctx context.Context) error {
	return r.b.await(ctx, r.id, SignalBooted, r.s.booted)
}

func (r *remote) SetBounds(ctx context.Context, g models.Geometry) error {
	_, err := r.b.call(ctx, r.id, CmdSetBounds, g)
	return err
}

func (r *remote) ShowInactive(ctx context.Context) error {
	_, err := r.b.call(ctx, r.id, CmdShowInactive, nil)
	return err
}

func (r *remote) Focus(ctx context.Context) error {
	_, err := r.b.call(ctx, r.id, CmdFocus, nil)
	return err
}

func (r *remote) SetTitleVisible(ctx context.Context, visible bool) error {
	_, err := r.b.call(ctx, r.id, CmdSetTitleVisible, map[string]bool{"visible": visible})
	return err
}

func (r *remote) Close(ctx context.Context) error {
	defer r.b.Release(r.id)
	_, err := r.b.call(ctx, r.id, CmdClose, nil)
	return err
}

// Render sends the serialized card as-is.
func (r *remote) Render(ctx context.Context, snapshot []byte) error {
	_, err := r.b.call(ctx, r.id, CmdRender, json.RawMessage(snapshot))
	return err
}

func (r *remote) GetContent(ctx context.Context) (string, error) {
	raw, err := r.b.call(ctx, r.id, CmdGetContent, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("bridge: decode %s reply: %w", CmdGetContent, err)
	}
	return out.Content, nil
}

func (r *remote) SetContent(ctx context.Context, content string) error {
	_, err := r.b.call(ctx, r.id, CmdSetContent, map[string]string{"content": content})
	return err
}

func (r *remote) Resize(ctx context.Context, width, height int) error {
	_, err := r.b.call(ctx, r.id, CmdResize, map[string]int{"width": width, "height": height})
	return err
}

func (r *remote) FocusEditor(ctx context.Context) error {
	_, err := r.b.call(ctx, r.id, CmdFocusEditor, nil)
	return err
}

func (r *remote) SetColors(ctx context.Context, background, title string) error {
	_, err := r.b.call(ctx, r.id, CmdSetColors, map[string]string{"background": background, "title": title})
	return err
}
