// Package pdf implements the document preparation pipeline: injecting named
// text fields into an uploaded PDF, filling them, flattening the form into
// static content and compositing a signature image.
//
// It operates on the low-level pdfcpu object model (types.Dict / types.Array)
// because pdfcpu exposes no high-level API for creating or flattening
// AcroForm fields.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var (
	// ErrMalformedDocument indicates input bytes that cannot be parsed as a
	// PDF, or a document without any pages.
	ErrMalformedDocument = errors.New("malformed or empty pdf document")

	// ErrImageDecode indicates a signature payload that is not a decodable
	// raster image.
	ErrImageDecode = errors.New("signature image cannot be decoded")
)

const (
	fontResourceName = "Helv"
	fieldFontSize    = 10
	defaultDA        = "/Helv 10 Tf 0 g"
)

// readContext parses PDF bytes into a pdfcpu context using relaxed
// validation and verifies the document has at least one page.
func readContext(data []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrMalformedDocument)
	}
	return ctx, nil
}

// writeContext re-serializes a modified context to bytes.
func writeContext(ctx *model.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// helveticaRef registers a standard Helvetica Type1 font object and returns
// an indirect reference to it.
func helveticaRef(ctx *model.Context) (*types.IndirectRef, error) {
	d := types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Helvetica"),
		"Encoding": types.Name("WinAnsiEncoding"),
	}
	return ctx.IndRefForNewObject(d)
}

// acroFormDict returns the document's AcroForm dictionary and its Fields
// array, or nils when the document carries no form.
func acroFormDict(ctx *model.Context) (types.Dict, types.Array, error) {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	obj, found := rootDict.Find("AcroForm")
	if !found {
		return nil, nil, nil
	}
	acro, err := ctx.DereferenceDict(obj)
	if err != nil || acro == nil {
		return nil, nil, err
	}
	fieldsObj, found := acro.Find("Fields")
	if !found {
		return acro, nil, nil
	}
	fields, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return acro, nil, err
	}
	return acro, fields, nil
}

// fieldName resolves a field dictionary's partial name (T entry).
func fieldName(ctx *model.Context, d types.Dict) string {
	obj, found := d.Find("T")
	if !found {
		return ""
	}
	name, err := ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil)
	if err != nil {
		return ""
	}
	return name
}

// fieldRect resolves a widget's Rect entry into x, y, width, height.
func fieldRect(ctx *model.Context, d types.Dict) (x, y, w, h float64, ok bool) {
	obj, found := d.Find("Rect")
	if !found {
		return 0, 0, 0, 0, false
	}
	arr, err := ctx.DereferenceArray(obj)
	if err != nil || len(arr) != 4 {
		return 0, 0, 0, 0, false
	}
	var c [4]float64
	for i, o := range arr {
		v, err := ctx.Dereference(o)
		if err != nil {
			return 0, 0, 0, 0, false
		}
		switch n := v.(type) {
		case types.Integer:
			c[i] = float64(n)
		case types.Float:
			c[i] = float64(n)
		default:
			return 0, 0, 0, 0, false
		}
	}
	return c[0], c[1], c[2] - c[0], c[3] - c[1], true
}

// appendPageContent adds a new content stream after the page's existing
// content so it is drawn on top.
func appendPageContent(ctx *model.Context, pageDict types.Dict, content []byte) error {
	sd, err := ctx.NewStreamDictForBuf(content)
	if err != nil {
		return err
	}
	if err := sd.Encode(); err != nil {
		return err
	}
	ref, err := ctx.IndRefForNewObject(*sd)
	if err != nil {
		return err
	}

	obj, found := pageDict.Find("Contents")
	if !found {
		pageDict["Contents"] = *ref
		return nil
	}
	switch o := obj.(type) {
	case types.Array:
		pageDict["Contents"] = append(o, *ref)
	case types.IndirectRef:
		deref, err := ctx.Dereference(o)
		if err != nil {
			return err
		}
		if arr, isArr := deref.(types.Array); isArr {
			pageDict["Contents"] = append(arr, *ref)
		} else {
			pageDict["Contents"] = types.Array{o, *ref}
		}
	default:
		pageDict["Contents"] = types.Array{obj, *ref}
	}
	return nil
}

// ensurePageFont makes the injected font reachable from the page's own
// resource dictionary. Inherited resources are copied down first so the
// original page content keeps resolving.
func ensurePageFont(ctx *model.Context, pageDict types.Dict, inherited types.Dict, fontRef *types.IndirectRef) error {
	var res types.Dict
	if obj, found := pageDict.Find("Resources"); found {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return err
		}
		res = d
	}
	if res == nil {
		res = types.Dict{}
		for k, v := range inherited {
			res[k] = v
		}
		pageDict["Resources"] = res
	}

	var fonts types.Dict
	if obj, found := res.Find("Font"); found {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return err
		}
		fonts = d
	}
	if fonts == nil {
		fonts = types.Dict{}
		res["Font"] = fonts
	}
	fonts[fontResourceName] = *fontRef
	return nil
}

// escapeText escapes the characters with special meaning inside a PDF
// literal string.
func escapeText(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}

// FieldNames lists the partial names of all form fields in document order.
// It is primarily useful for verification after injection.
func FieldNames(data []byte) ([]string, error) {
	ctx, err := readContext(data)
	if err != nil {
		return nil, err
	}
	_, fields, err := acroFormDict(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, obj := range fields {
		d, err := ctx.DereferenceDict(obj)
		if err != nil || d == nil {
			continue
		}
		if name := fieldName(ctx, d); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
