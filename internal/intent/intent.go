// Package intent maps an utterance to one of a closed set of intents by
// keyword matching.
//
// Groups are scanned in the order they were given and the first group with a
// keyword contained in the utterance wins, so overlapping keyword sets resolve
// by priority. Text matching no group is [Knowledge].
package intent

import (
	"fmt"
	"strings"
)

// Tag is the classified purpose of an utterance.
type Tag string

const (
	Vision    Tag = "VISION"
	Knowledge Tag = "KNOWLEDGE"
	Exit      Tag = "EXIT"
)

// ParseTag converts s to a Tag.
func ParseTag(s string) (Tag, error) {
	switch t := Tag(strings.ToUpper(strings.TrimSpace(s))); t {
	case Vision, Knowledge, Exit:
		return t, nil
	}
	return "", fmt.Errorf("intent: unknown tag %q", s)
}

// Group binds keywords to a tag.
type Group struct {
	Tag      Tag
	Keywords []string
}

// Classifier holds an ordered list of keyword groups. It has no mutable
// state; Classify is safe for concurrent use.
type Classifier struct {
	groups []Group
}

// New builds a Classifier. Keywords are lower-cased; empty keywords are
// dropped so they cannot match everything.
func New(groups []Group) *Classifier {
	c := &Classifier{groups: make([]Group, 0, len(groups))}
	for _, g := range groups {
		kw := make([]string, 0, len(g.Keywords))
		for _, k := range g.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		c.groups = append(c.groups, Group{Tag: g.Tag, Keywords: kw})
	}
	return c
}

// Classify returns the tag of the first group with a keyword contained in
// text, ignoring case, or [Knowledge] when nothing matches.
func (c *Classifier) Classify(text string) Tag {
	text = strings.ToLower(text)
	for _, g := range c.groups {
		for _, k := range g.Keywords {
			if strings.Contains(text, k) {
				return g.Tag
			}
		}
	}
	return Knowledge
}

// Groups returns a copy of the configured groups in priority order.
func (c *Classifier) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = Group{Tag: g.Tag, Keywords: append([]string(nil), g.Keywords...)}
	}
	return out
}
