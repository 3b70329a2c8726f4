package dispositions

import (
	"sort"
	"strings"
	"sync"
)

// Category groups call codes by who produced the result.
type Category string

const (
	CategoryHuman   Category = "HUMAN"
	CategoryMachine Category = "MACHINE"
	CategorySystem  Category = "SYSTEM"
)

// Code is a call disposition ("call code") an agent records at wrap-up.
type Code struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	IsSale      bool     `json:"is_sale" yaml:"is_sale"`
	IsDNC       bool     `json:"is_dnc" yaml:"is_dnc"`
	IsCallback  bool     `json:"is_callback" yaml:"is_callback"`
	// Selectable codes may be chosen by agents; system codes are applied by the core.
	Selectable bool `json:"selectable" yaml:"selectable"`
}

// Built-in system codes.
const (
	CodeDrop          = "DROP"
	CodeWrapupTimeout = "WRAPUP_TIMEOUT"
	CodeCanceled      = "CANCELED"
	CodeBusy          = "BUSY"
	CodeNoAnswer      = "NO_ANSWER"
	CodeFailed        = "FAILED"
)

func systemCodes() []Code {
	return []Code{
		{ID: CodeDrop, Name: "Dropped", Description: "Answered with no agent available or abandoned before agent contact.", Category: CategorySystem},
		{ID: CodeWrapupTimeout, Name: "Wrap-up timeout", Description: "No disposition recorded before the wrap-up deadline.", Category: CategorySystem},
		{ID: CodeCanceled, Name: "Canceled", Description: "Attempt canceled by the dialer.", Category: CategorySystem},
		{ID: CodeBusy, Name: "Busy", Description: "Carrier reported busy.", Category: CategorySystem},
		{ID: CodeNoAnswer, Name: "No answer", Description: "Lead did not pick up.", Category: CategorySystem},
		{ID: CodeFailed, Name: "Failed", Description: "Carrier failure or answering machine.", Category: CategorySystem},
	}
}

// Catalog is the set of codes valid for a campaign. Safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	codes map[string]Code
}

// NewCatalog builds a catalog from agent codes; system codes are always present.
// Codes are matched case-insensitively on ID.
func NewCatalog(codes ...Code) *Catalog {
	c := &Catalog{codes: map[string]Code{}}
	for _, sc := range systemCodes() {
		c.codes[sc.ID] = sc
	}
	for _, code := range codes {
		c.Add(code)
	}
	return c
}

// Add registers or replaces a code. Codes with an empty ID are ignored.
func (c *Catalog) Add(code Code) {
	code.ID = normalize(code.ID)
	if code.ID == "" {
		return
	}
	if code.Category == "" {
		code.Category = CategoryHuman
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[code.ID] = code
}

// Lookup returns the code with the given ID.
func (c *Catalog) Lookup(id string) (Code, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.codes[normalize(id)]
	return code, ok
}

// Selectable returns the code if an agent is allowed to record it.
func (c *Catalog) Selectable(id string) (Code, bool) {
	code, ok := c.Lookup(id)
	if !ok || !code.Selectable {
		return Code{}, false
	}
	return code, true
}

// List returns all codes sorted by ID.
func (c *Catalog) List() []Code {
	c.mu.RLock()
	out := make([]Code, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, code)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
