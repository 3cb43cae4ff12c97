package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cv-ingest/internal/types"
)

func TestClassifyFormat(t *testing.T) {
	cases := map[string]types.DocumentKind{
		"application/pdf":                 types.KindPDF,
		"Application/PDF; charset=binary": types.KindPDF,
		"application/msword":              types.KindWordProcessor,
		MIMETypeDocx:                      types.KindWordProcessor,
		"image/png":                       types.KindUnsupported,
		"text/plain":                      types.KindUnsupported,
		"":                                types.KindUnsupported,
	}
	for mime, want := range cases {
		assert.Equal(t, want, ClassifyFormat(mime), mime)
	}
}

func TestMIMEFromFilename(t *testing.T) {
	assert.Equal(t, MIMETypePDF, MIMEFromFilename("CV.PDF"))
	assert.Equal(t, MIMETypeDocx, MIMEFromFilename("resume.docx"))
	assert.Equal(t, MIMETypeDoc, MIMEFromFilename("resume.doc"))
	assert.Equal(t, "image/png", MIMEFromFilename("scan.png"))
	assert.Equal(t, "application/octet-stream", MIMEFromFilename("noext"))
}
