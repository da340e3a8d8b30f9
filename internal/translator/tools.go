package translator

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// ConvertTools truncates names/descriptions per spec.md §4.2 "Tool
// definitions" and appends mandatory advisories for Write/Edit. It does not
// itself cache; use ToolConvertCache to avoid repeating the work for an
// identical tool list.
func ConvertTools(specs []ToolSpec) []ToolSpec {
	out := make([]ToolSpec, len(specs))
	for i, s := range specs {
		out[i] = convertOne(s)
	}
	return out
}

func convertOne(s ToolSpec) ToolSpec {
	name := truncateName(s.Name)
	desc := s.Description
	if len(desc) > config.ToolDescriptionMaxLen {
		desc = desc[:config.ToolDescriptionMaxLen]
	}
	if name == "Write" || name == "Edit" {
		desc = strings.TrimRight(desc, "\n") + "\n" + lineLimitAdvisory
	}
	return ToolSpec{Name: name, Description: desc, Schema: s.Schema}
}

const lineLimitAdvisory = "Keep output within reasonable line-count limits; prefer concise diffs."

// truncateName truncates to 64 chars while preserving an "mcp__"-style
// prefix (spec.md: "MCP-prefixed names preserve the prefix").
func truncateName(name string) string {
	if len(name) <= config.ToolNameMaxLen {
		return name
	}
	const mcpPrefix = "mcp__"
	if strings.HasPrefix(name, mcpPrefix) {
		rest := name[len(mcpPrefix):]
		budget := config.ToolNameMaxLen - len(mcpPrefix)
		if budget < 0 {
			budget = 0
		}
		if len(rest) > budget {
			rest = rest[:budget]
		}
		return mcpPrefix + rest
	}
	return name[:config.ToolNameMaxLen]
}

// Fingerprint computes the cache key for a tool list: names + description
// lengths (spec.md: "Cached by a fingerprint of tool names and description
// lengths").
func Fingerprint(specs []ToolSpec) string {
	h := sha256.New()
	for _, s := range specs {
		fmt.Fprintf(h, "%s:%d|", s.Name, len(s.Description))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ToolConvertCache is an LRU of fingerprint -> converted tool list, cap 8,
// TTL 5 minutes (spec.md §4.2).
type ToolConvertCache struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	cap   int
	ttl   time.Duration
}

type toolCacheEntry struct {
	key       string
	converted []ToolSpec
	expires   time.Time
}

// NewToolConvertCache creates the cache with spec-mandated defaults.
func NewToolConvertCache() *ToolConvertCache {
	return &ToolConvertCache{
		ll:    list.New(),
		items: make(map[string]*list.Element),
		cap:   config.ToolConvertCacheSize,
		ttl:   config.ToolConvertCacheTTL,
	}
}

// GetOrConvert returns the cached conversion for specs, computing and
// inserting it on miss.
func (c *ToolConvertCache) GetOrConvert(specs []ToolSpec) []ToolSpec {
	key := Fingerprint(specs)
	now := time.Now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*toolCacheEntry)
		if entry.expires.After(now) {
			c.ll.MoveToFront(el)
			result := entry.converted
			c.mu.Unlock()
			return result
		}
		c.ll.Remove(el)
		delete(c.items, key)
	}
	c.mu.Unlock()

	converted := ConvertTools(specs)

	c.mu.Lock()
	defer c.mu.Unlock()
	el := c.ll.PushFront(&toolCacheEntry{key: key, converted: converted, expires: now.Add(c.ttl)})
	c.items[key] = el
	for c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*toolCacheEntry).key)
	}
	return converted
}

// EnsureHistoryToolCompleteness inserts empty-schema placeholders for any
// tool name referenced in history but missing from the current tools list
// (spec.md: "History tool-spec completeness").
func EnsureHistoryToolCompleteness(tools []ToolSpec, history []Turn) []ToolSpec {
	present := map[string]bool{}
	for _, t := range tools {
		present[t.Name] = true
	}

	out := tools
	seenMissing := map[string]bool{}
	for _, turn := range history {
		for _, tu := range turn.ToolUses {
			if present[tu.Name] || seenMissing[tu.Name] {
				continue
			}
			seenMissing[tu.Name] = true
			out = append(out, ToolSpec{Name: tu.Name, Schema: []byte(`{"type":"object","properties":{}}`)})
		}
	}
	return out
}
