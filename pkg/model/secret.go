package model

import (
	"encoding/json"
	"fmt"
	"io"
)

const redacted = "[SECRET]"

// Secret holds sensitive credential material. fmt verbs, JSON and text
// encoding all redact it; Reveal is the only way to read the plaintext.
type Secret string

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

// Format implements fmt.Formatter so %v, %+v and %#v never print the value.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Reveal returns the plaintext value.
func (s Secret) Reveal() string { return string(s) }

// IsEmpty reports whether no material is set.
func (s Secret) IsEmpty() bool { return s == "" }
