// Package models defines the knowledge-base records, categories, queries, and response shapes.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCategory is returned when a category label is not one of the fixed set.
var ErrUnknownCategory = errors.New("unknown category")

// Category is the partition a record belongs to. The set is closed.
type Category string

const (
	CategoryErrorCodes Category = "ERROR_CODES"
	CategorySchematics Category = "SCHEMATICS"
	CategoryGeneral    Category = "GENERAL"
)

// Categories returns the fixed category set in canonical order.
func Categories() []Category {
	return []Category{CategoryErrorCodes, CategorySchematics, CategoryGeneral}
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryErrorCodes, CategorySchematics, CategoryGeneral:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory converts a label (case-insensitive) to a Category.
// An empty label yields "" with no error, meaning no restriction.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	c := Category(strings.ToUpper(s))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// ContentType tags what a record carries. Only text records exist today.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)
