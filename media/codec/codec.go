// Package codec defines the contracts shared by the elementary-stream
// parsers: the access-unit model, the parser interface, and a registry
// keyed by sample-entry code type.
package codec

import (
	"strings"

	"github.com/bugVanisher/heif/common/errs"
)

// Code types the toolkit recognizes.
const (
	CodeTypeHvc1 = "hvc1"
	CodeTypeHev1 = "hev1"
	CodeTypeAvc1 = "avc1"
	CodeTypeAvc3 = "avc3"
	CodeTypeLhv1 = "lhv1"
	CodeTypeLhe1 = "lhe1"
)

// AccessUnit is one coded picture with its associated non-VCL data, as
// produced by a Parser. Parameter-set lists hold every parameter set the
// parser has seen up to this picture, one NAL unit per ID; the order of the
// entries within a list is not defined.
type AccessUnit struct {
	VpsNals [][]byte
	SpsNals [][]byte
	PpsNals [][]byte
	VclNals [][]byte

	Poc          int32
	DecodeIndex  uint32
	DisplayIndex uint32
	Width        uint32
	Height       uint32

	// RefPicIndices lists, by decode index, the pictures this one predicts
	// from (list 0 then list 1, duplicates removed, order preserved).
	RefPicIndices []uint32

	IsIdr       bool
	IsCra       bool
	IsBla       bool
	IsIntraOnly bool
	IsOutput    bool
}

// Parser walks an elementary stream and yields access units in decode
// order. io.EOF signals end of stream.
type Parser interface {
	NextAccessUnit() (*AccessUnit, error)
}

// NewParserFunc builds a parser over a complete Annex-B stream.
type NewParserFunc func(data []byte) (Parser, error)

var parsers = map[string]NewParserFunc{}

// RegisterParser binds a codec family name ("avc", "hevc", "lhevc") to a
// parser constructor. Called from codec package init functions.
func RegisterParser(family string, f NewParserFunc) {
	parsers[family] = f
}

// FamilyOf maps a sample-entry or item code type to its codec family.
func FamilyOf(codeType string) (string, error) {
	switch strings.ToLower(codeType) {
	case CodeTypeAvc1, CodeTypeAvc3:
		return "avc", nil
	case CodeTypeHvc1, CodeTypeHev1:
		return "hevc", nil
	case CodeTypeLhv1, CodeTypeLhe1:
		return "lhevc", nil
	}
	return "", errs.Wrapf(errs.ErrUnknownCodeType, "codec: %q", codeType)
}

// NewParser builds a parser for the given code type.
func NewParser(codeType string, data []byte) (Parser, error) {
	family, err := FamilyOf(codeType)
	if err != nil {
		return nil, err
	}
	f, ok := parsers[family]
	if !ok {
		return nil, errs.Wrapf(errs.ErrUnknownCodeType, "codec: no parser registered for %q", family)
	}
	return f(data)
}
