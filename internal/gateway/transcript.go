// ABOUTME: Renders a workflow's persisted message groups as an HTML transcript
// ABOUTME: Builds Markdown per message and converts it with goldmark

package gateway

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/store"
)

// transcriptMarkdown builds the Markdown source of a transcript.
func transcriptMarkdown(wf *store.Workflow, groups []*store.MessageGroup) string {
	var md strings.Builder

	title := wf.Title
	if title == "" {
		title = wf.Type + " workflow"
	}
	fmt.Fprintf(&md, "# %s\n\n", title)
	fmt.Fprintf(&md, "_%s · %s · started %s_\n\n", wf.Type, wf.ProviderID, formatTime(wf.CreatedAt))

	if len(groups) == 0 {
		md.WriteString("No messages yet.\n")
		return md.String()
	}

	for i, grp := range groups {
		if i > 0 {
			md.WriteString("---\n\n")
		}
		for _, m := range grp.Messages {
			writeMessage(&md, m)
		}
	}
	return md.String()
}

func writeMessage(md *strings.Builder, m llm.Message) {
	switch m.Sender {
	case llm.SenderUser:
		md.WriteString("**You:**\n\n")
		md.WriteString(m.Content)
		md.WriteString("\n\n")
	case llm.SenderAssistant:
		md.WriteString("**Assistant:**\n\n")
		if m.Content != "" {
			md.WriteString(m.Content)
			md.WriteString("\n\n")
		}
		for _, call := range m.ToolCalls {
			fmt.Fprintf(md, "- called `%s`\n", call.Name)
		}
		if len(m.ToolCalls) > 0 {
			md.WriteString("\n")
		}
	case llm.SenderTool:
		fmt.Fprintf(md, "**Tool result** (`%s`):\n\n", m.ToolCallID)
		fence := codeFence(m.Content)
		fmt.Fprintf(md, "%s\n%s\n%s\n\n", fence, m.Content, fence)
	}

	switch m.FinishReason {
	case llm.FinishAborted, llm.FinishTimeout, llm.FinishLength:
		fmt.Fprintf(md, "_(reply ended: %s)_\n\n", m.FinishReason)
	}
}

// codeFence returns a backtick fence longer than any backtick run in s.
func codeFence(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}

// renderTranscript returns a standalone HTML page. goldmark escapes raw
// HTML in message content.
func renderTranscript(wf *store.Workflow, groups []*store.MessageGroup) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(transcriptMarkdown(wf, groups)), &body); err != nil {
		return nil, fmt.Errorf("rendering transcript: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	page.WriteString(html.EscapeString(wf.ID))
	page.WriteString("</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}
