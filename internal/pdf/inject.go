package pdf

import (
	"fmt"

	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"docsign/internal/model"
)

// Injector adds the fixed set of named, empty single-line text fields to the
// first page of a document.
type Injector struct {
	fields []model.FieldSpec
}

// NewInjector returns an Injector for the standard signature field set.
func NewInjector() *Injector {
	return &Injector{fields: model.SignatureFields}
}

// Inject parses src, anchors one empty text field per spec to the first
// page and returns the re-serialized document. The fields keep their
// interactive form behavior; values are merged in later during finalization.
//
// Returns ErrMalformedDocument if src cannot be parsed or has no pages.
func (in *Injector) Inject(src []byte) ([]byte, error) {
	ctx, err := readContext(src)
	if err != nil {
		return nil, err
	}

	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil || pageDict == nil {
		return nil, fmt.Errorf("%w: no first page", ErrMalformedDocument)
	}

	fontRef, err := helveticaRef(ctx)
	if err != nil {
		return nil, fmt.Errorf("embed font: %w", err)
	}

	fieldRefs := make(types.Array, 0, len(in.fields))
	for _, spec := range in.fields {
		ref, err := in.createTextField(ctx, spec, fontRef)
		if err != nil {
			return nil, fmt.Errorf("create field %s: %w", spec.Name, err)
		}
		fieldRefs = append(fieldRefs, *ref)
	}

	if err := in.attachForm(ctx, pageDict, fieldRefs, fontRef); err != nil {
		return nil, err
	}

	return writeContext(ctx)
}

// createTextField builds a merged field/widget dictionary with an empty
// value and a regenerated (blank) appearance stream.
func (in *Injector) createTextField(ctx *pdfmodel.Context, spec model.FieldSpec, fontRef *types.IndirectRef) (*types.IndirectRef, error) {
	apRef, err := emptyAppearance(ctx, spec.Width, spec.Height, fontRef)
	if err != nil {
		return nil, err
	}

	d := types.Dict{
		"Type":    types.Name("Annot"),
		"Subtype": types.Name("Widget"),
		"FT":      types.Name("Tx"),
		"T":       types.StringLiteral(escapeText(spec.Name)),
		"Rect":    types.NewNumberArray(spec.X, spec.Y, spec.X+spec.Width, spec.Y+spec.Height),
		"F":       types.Integer(4), // print flag
		"DA":      types.StringLiteral(defaultDA),
		"V":       types.StringLiteral(""),
		"AP":      types.Dict{"N": *apRef},
	}
	return ctx.IndRefForNewObject(d)
}

// attachForm registers the AcroForm on the catalog and the widgets on the
// first page's annotation array.
func (in *Injector) attachForm(ctx *pdfmodel.Context, pageDict types.Dict, fieldRefs types.Array, fontRef *types.IndirectRef) error {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	acro := types.Dict{
		"Fields":          fieldRefs,
		"NeedAppearances": types.Boolean(true),
		"DA":              types.StringLiteral(defaultDA),
		"DR":              types.Dict{"Font": types.Dict{fontResourceName: *fontRef}},
	}
	acroRef, err := ctx.IndRefForNewObject(acro)
	if err != nil {
		return err
	}
	rootDict["AcroForm"] = *acroRef

	var annots types.Array
	if obj, found := pageDict.Find("Annots"); found {
		arr, err := ctx.DereferenceArray(obj)
		if err != nil {
			return err
		}
		annots = arr
	}
	pageDict["Annots"] = append(annots, fieldRefs...)
	return nil
}

// emptyAppearance produces a form XObject rendering an empty field box, so
// viewers that ignore NeedAppearances still show a consistent blank field.
func emptyAppearance(ctx *pdfmodel.Context, w, h float64, fontRef *types.IndirectRef) (*types.IndirectRef, error) {
	content := fmt.Sprintf("/Tx BMC q BT /%s %d Tf 0 g 2 %.2f Td () Tj ET Q EMC",
		fontResourceName, fieldFontSize, baselineOffset(h))
	sd, err := ctx.NewStreamDictForBuf([]byte(content))
	if err != nil {
		return nil, err
	}
	sd.Insert("Type", types.Name("XObject"))
	sd.Insert("Subtype", types.Name("Form"))
	sd.Insert("BBox", types.NewNumberArray(0, 0, w, h))
	sd.Insert("Resources", types.Dict{"Font": types.Dict{fontResourceName: *fontRef}})
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return ctx.IndRefForNewObject(*sd)
}

// baselineOffset vertically centers a single text line inside a box of the
// given height.
func baselineOffset(h float64) float64 {
	off := (h - fieldFontSize) / 2
	if off < 0 {
		off = 0
	}
	return off
}
