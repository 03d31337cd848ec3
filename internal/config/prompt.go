package config

import (
	"fmt"
	"io"
	"os"

	input "github.com/tcnksm/go-input"
)

var prompts = map[string]string{
	KeyEndpointURL: "Datastore endpoint URL",
	KeyAPIKey:      "Datastore API key",
	KeyTableName:   "Table name (blank for " + DefaultTableName + ")",
}

// PromptStore asks the user on a terminal. An empty answer counts as not found.
type PromptStore struct {
	ui   *input.UI
	mask bool
}

func NewPromptStore(w io.Writer, r io.Reader) *PromptStore {
	// Masked reads need a real terminal.
	_, isFile := r.(*os.File)
	return &PromptStore{
		ui:   &input.UI{Writer: w, Reader: r},
		mask: isFile,
	}
}

func (p *PromptStore) Get(name string) (string, bool) {
	query, ok := prompts[name]
	if !ok {
		return "", false
	}
	answer, err := p.ui.Ask(query, &input.Options{
		HideOrder: true,
		Mask:      p.mask && name == KeyAPIKey,
	})
	if err != nil || answer == "" {
		return "", false
	}
	return answer, true
}

func (p *PromptStore) Set(name, _ string) error {
	return fmt.Errorf("prompt store cannot persist %s", name)
}
