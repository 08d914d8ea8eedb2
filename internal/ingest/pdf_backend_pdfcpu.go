package ingest

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/david/rfp-finder/internal/models"
)

var disablePdfcpuConfig sync.Once

// pdfcpuBackend validates the document with pdfcpu, takes the full Info
// dictionary and reads text from content-stream show operators.
type pdfcpuBackend struct{}

func (b *pdfcpuBackend) Name() string { return "pdfcpu" }

func (b *pdfcpuBackend) Available() bool {
	disablePdfcpuConfig.Do(api.DisableConfigDir)
	return true
}

func (b *pdfcpuBackend) Extract(data []byte) (*PdfContent, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		stream, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		pages = append(pages, contentStreamText(stream))
	}

	return &PdfContent{
		Pages: pages,
		Metadata: models.PdfMetadata{
			NumPages: ctx.PageCount,
			Title:    ctx.XRefTable.Title,
			Author:   ctx.XRefTable.Author,
			Subject:  ctx.XRefTable.Subject,
			Creator:  ctx.XRefTable.Creator,
		},
	}, nil
}

// textOperator matches show-text operators and the operators that move to a new line.
var textOperator = regexp.MustCompile(`\[(?:\\.|[^\]\\])*\]\s*TJ|\((?:\\.|[^\\)])*\)\s*(?:Tj|'|")|\bT\*|\bET\b|\bT[dD]\b`)

var pdfLiteral = regexp.MustCompile(`\((?:\\.|[^\\)])*\)`)

func contentStreamText(stream []byte) string {
	var sb strings.Builder
	for _, op := range textOperator.FindAll(stream, -1) {
		switch {
		case op[0] == '[' || op[0] == '(':
			if last := op[len(op)-1]; last == '\'' || last == '"' {
				sb.WriteByte('\n')
			}
			for _, lit := range pdfLiteral.FindAll(op, -1) {
				sb.WriteString(decodePDFLiteral(lit[1 : len(lit)-1]))
			}
		case bytes.Equal(op, []byte("T*")), bytes.Equal(op, []byte("ET")):
			sb.WriteByte('\n')
		default:
			sb.WriteByte(' ')
		}
	}

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if line = normalizeSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// decodePDFLiteral resolves backslash and octal escapes in a string literal body.
func decodePDFLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 == len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '\n':
			// line continuation
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := 0
				for n := 0; n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7'; n++ {
					val = val*8 + int(raw[i]-'0')
					i++
				}
				i--
				sb.WriteByte(byte(val))
				continue
			}
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}
