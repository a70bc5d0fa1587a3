package diag

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Code identifies a class of posted error. Codes are opaque enumerants;
// a human-readable description is attached via Register or LoadCodes and
// is consulted only when a record is rendered for the default stream or
// for delegates.
type Code string

func (c Code) String() string {
	return string(c)
}

// Description returns the registered description for the code, or the
// empty string if the code was never registered.
func (c Code) Description() string {
	table := codeTable.Load()
	if table == nil {
		return ""
	}

	return (*table)[c]
}

var (
	codeMu    sync.Mutex
	codeTable atomic.Pointer[map[Code]string]
)

// Register associates a human-readable description with an error code.
// Registration is intended to happen at process initialization; reads are
// lock-free afterwards. Registering the same code again overwrites the
// previous description.
func Register(code Code, description string) {
	codeMu.Lock()
	defer codeMu.Unlock()

	storeCodes(map[Code]string{code: description})
}

// LoadCodes reads a YAML code table and merges it into the registry.
//
// The expected document shape is:
//
//	codes:
//	  - code: invalid_shader_binding
//	    description: A shader output is bound to an incompatible input.
func LoadCodes(r io.Reader) error {
	var table struct {
		Codes []struct {
			Code        string `yaml:"code"`
			Description string `yaml:"description"`
		} `yaml:"codes"`
	}

	err := yaml.NewDecoder(r).Decode(&table)
	if err != nil {
		return fmt.Errorf("decoding code table: %w", err)
	}

	merged := make(map[Code]string, len(table.Codes))
	for i, entry := range table.Codes {
		if len(entry.Code) == 0 {
			return fmt.Errorf("code table entry %d: code is empty", i)
		}

		merged[Code(entry.Code)] = entry.Description
	}

	codeMu.Lock()
	defer codeMu.Unlock()

	storeCodes(merged)

	return nil
}

// storeCodes publishes a new registry snapshot. Callers must hold codeMu.
func storeCodes(entries map[Code]string) {
	old := codeTable.Load()

	var next map[Code]string
	if old == nil {
		next = make(map[Code]string, len(entries))
	} else {
		next = make(map[Code]string, len(*old)+len(entries))
		for code, description := range *old {
			next[code] = description
		}
	}

	for code, description := range entries {
		next[code] = description
	}

	codeTable.Store(&next)
}
