package transcript

import (
	"strings"
	"testing"
)

const chatPage = `<!DOCTYPE html>
<html><head><title>Deploy plan | ChatGPT</title></head>
<body>
<main>
<div data-message-author-role="user"><div class="whitespace-pre-wrap">How do I run the tests?</div></div>
<div data-message-author-role="assistant"><div class="markdown"><p>Use <code>go test</code> from the root.</p><p>Add <strong>-race</strong> too.</p><pre><code>go test  ./...
go vet ./...</code></pre><button>Copy code</button></div></div>
<div data-message-author-role="system">hidden instructions</div>
<div data-message-author-role="user"></div>
</main>
<script>window.__state = {"x": 1}</script>
</body></html>`

func TestParseFlatHTML_ExtractsElementsInDocumentOrder(t *testing.T) {
	page, err := ParseFlatHTML(strings.NewReader(chatPage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if page.Title != "Deploy plan | ChatGPT" {
		t.Errorf("title = %q", page.Title)
	}
	if len(page.Elements) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(page.Elements))
	}

	roles := []string{"user", "assistant", "system", "user"}
	for i, r := range roles {
		if page.Elements[i].Role != r {
			t.Errorf("element[%d] role = %q, want %q", i, page.Elements[i].Role, r)
		}
	}

	if page.Elements[0].Text != "How do I run the tests?" {
		t.Errorf("element[0] text = %q", page.Elements[0].Text)
	}
	if page.Elements[0].HTML != `<div class="whitespace-pre-wrap">How do I run the tests?</div>` {
		t.Errorf("element[0] html = %q", page.Elements[0].HTML)
	}

	wantAssistant := "Use go test from the root.\nAdd -race too.\ngo test  ./...\ngo vet ./..."
	if page.Elements[1].Text != wantAssistant {
		t.Errorf("element[1] text = %q, want %q", page.Elements[1].Text, wantAssistant)
	}
	if !strings.Contains(page.Elements[1].HTML, "<strong>-race</strong>") {
		t.Errorf("element[1] html missing markup: %q", page.Elements[1].HTML)
	}

	if page.Elements[3].Text != "" || page.Elements[3].HTML != "" {
		t.Errorf("expected empty element, got %+v", page.Elements[3])
	}
}

func TestParseFlatHTML_NormalizesToUserAndAssistant(t *testing.T) {
	page, err := ParseFlatHTML(strings.NewReader(chatPage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := Normalize(page.Elements)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Index != i {
			t.Errorf("msg[%d] index = %d", i, m.Index)
		}
	}
	if msgs[2].Role != RoleUser || msgs[2].Text != "" {
		t.Errorf("expected trailing empty user message, got %+v", msgs[2])
	}
}

func TestParseFlatHTML_NoMessages(t *testing.T) {
	page, err := ParseFlatHTML(strings.NewReader(`<html><head><title>Login</title></head><body><p>Sign in</p></body></html>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Title != "Login" {
		t.Errorf("title = %q", page.Title)
	}
	if len(page.Elements) != 0 {
		t.Errorf("expected no elements, got %d", len(page.Elements))
	}
}

func TestRenderText_LineBreaks(t *testing.T) {
	page, err := ParseFlatHTML(strings.NewReader(`<div data-message-author-role="assistant">line one<br>line two<ul><li>a</li><li>b</li></ul>tail</div>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(page.Elements))
	}
	want := "line one\nline two\na\nb\ntail"
	if page.Elements[0].Text != want {
		t.Errorf("text = %q, want %q", page.Elements[0].Text, want)
	}
}
