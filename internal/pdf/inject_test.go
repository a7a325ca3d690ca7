package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsign/internal/model"
)

func TestInjector_Inject(t *testing.T) {
	out, err := NewInjector().Inject(buildTestPDF(t, 1))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	names, err := FieldNames(out)
	require.NoError(t, err, "injected document must be re-loadable")
	assert.Equal(t, []string{"FullName", "Date", "Company"}, names)
}

func TestInjector_Inject_FieldPlacement(t *testing.T) {
	out, err := NewInjector().Inject(buildTestPDF(t, 1))
	require.NoError(t, err)

	ctx, err := readContext(out)
	require.NoError(t, err)

	_, fields, err := acroFormDict(ctx)
	require.NoError(t, err)
	require.Len(t, fields, len(model.SignatureFields))

	specs := map[string]model.FieldSpec{}
	for _, s := range model.SignatureFields {
		specs[s.Name] = s
	}

	for _, obj := range fields {
		d, err := ctx.DereferenceDict(obj)
		require.NoError(t, err)

		spec, ok := specs[fieldName(ctx, d)]
		require.True(t, ok, "unexpected field %q", fieldName(ctx, d))

		x, y, w, h, ok := fieldRect(ctx, d)
		require.True(t, ok)
		assert.Equal(t, spec.X, x)
		assert.Equal(t, spec.Y, y)
		assert.Equal(t, spec.Width, w)
		assert.Equal(t, spec.Height, h)
	}
}

func TestInjector_Inject_MultiPageUsesFirstPage(t *testing.T) {
	out, err := NewInjector().Inject(buildTestPDF(t, 3))
	require.NoError(t, err)

	ctx, err := readContext(out)
	require.NoError(t, err)
	assert.Equal(t, 3, ctx.PageCount)

	pageDict, _, _, err := ctx.PageDict(1, false)
	require.NoError(t, err)
	_, found := pageDict.Find("Annots")
	assert.True(t, found, "widgets belong on the first page")

	lastPage, _, _, err := ctx.PageDict(3, false)
	require.NoError(t, err)
	_, found = lastPage.Find("Annots")
	assert.False(t, found, "no widgets expected past the first page")
}

func TestInjector_Inject_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
	}{
		{name: "garbage bytes", src: []byte("this is not a pdf")},
		{name: "empty input", src: nil},
		{name: "zero pages", src: buildTestPDF(t, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInjector().Inject(tt.src)
			assert.ErrorIs(t, err, ErrMalformedDocument)
		})
	}
}
