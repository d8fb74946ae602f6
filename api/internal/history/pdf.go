package history

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	DefaultAuthor = "Plane Assistant"

	marginX      = 20.0
	marginTop    = 25.0
	marginBottom = 25.0
	lineH        = 5.5
	cellPadX     = 2.5
	cellPadY     = 2.0

	stampLayout = "02/01/2006 15:04"
)

var partColumns = []float64{70, 60, 40}

type rgb struct{ r, g, b int }

var (
	titleColor   = rgb{0x1a, 0x36, 0x5d}
	sectionColor = rgb{0x2c, 0x52, 0x82}
	keyFill      = rgb{0xe2, 0xe8, 0xf0}
	rowShade     = rgb{0xf5, 0xf5, 0xdc}
	gridColor    = rgb{0x80, 0x80, 0x80}
)

type Options struct {
	Author string
	// Now stamps the header and footers. Defaults to time.Now.
	Now func() time.Time
	// Compress deflates page streams. Off keeps the text searchable.
	Compress bool
}

// Formatter lays a Document out as an A4 report.
type Formatter struct {
	opts Options
}

func NewFormatter(opts Options) *Formatter {
	if opts.Author == "" {
		opts.Author = DefaultAuthor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Formatter{opts: opts}
}

// Format renders doc. Sections without data are left out, headings included.
func (f *Formatter) Format(doc Document) ([]byte, error) {
	generated := f.opts.Now()
	created := doc.CreatedAt
	if created.IsZero() {
		created = generated
	}
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = DefaultTitle
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(f.opts.Compress)
	pdf.SetCreationDate(generated)
	pdf.SetModificationDate(generated)
	pdf.SetTitle(title, true)
	pdf.SetAuthor(f.opts.Author, true)
	pdf.SetCreator(f.opts.Author, true)
	pdf.SetMargins(marginX, marginTop, marginX)
	pdf.SetAutoPageBreak(true, marginBottom)

	p := &page{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pw, ph := pdf.GetPageSize()
	p.width = pw - 2*marginX
	p.bottom = ph - marginBottom

	footer := p.tr(fmt.Sprintf("Report generated %s - %s", generated.Format(stampLayout), f.opts.Author))
	pdf.SetFooterFunc(func() {
		pdf.SetY(-20)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 5, "Page "+strconv.Itoa(pdf.PageNo()), "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 5, footer, "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	p.header(title, created)
	if s := strings.TrimSpace(doc.Summary); s != "" {
		p.section("Executive Summary")
		p.paragraph(s)
	}
	if !doc.AircraftInfo.Empty() {
		p.section("Aircraft Information")
		p.aircraft(doc.AircraftInfo)
	}
	if len(doc.MaintenanceActions) > 0 {
		p.section("Maintenance Actions")
		p.actions(doc.MaintenanceActions)
	}
	if len(doc.PartsUsed) > 0 {
		p.section("Parts Used")
		p.parts(doc.PartsUsed)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("history: write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type page struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	width  float64
	bottom float64
}

func (p *page) font(style string, size float64, c rgb) {
	p.pdf.SetFont("Helvetica", style, size)
	p.pdf.SetTextColor(c.r, c.g, c.b)
}

func (p *page) header(title string, created time.Time) {
	p.font("B", 22, titleColor)
	p.pdf.MultiCell(0, 10, p.tr(title), "", "C", false)
	p.font("I", 10, gridColor)
	p.pdf.CellFormat(0, 6, "Generated: "+created.Format(stampLayout), "", 1, "C", false, 0, "")
	p.pdf.Ln(8)
}

func (p *page) section(name string) {
	p.keep(7 + 2*lineH)
	p.pdf.Ln(4)
	p.font("B", 15, sectionColor)
	p.pdf.CellFormat(0, 8, name, "", 1, "L", false, 0, "")
	p.pdf.Ln(2)
}

func (p *page) paragraph(s string) {
	p.font("", 11, rgb{})
	p.pdf.MultiCell(0, lineH, p.tr(s), "", "J", false)
	p.pdf.Ln(3)
}

func (p *page) aircraft(a *AircraftInfo) {
	var rows [][2]string
	for _, kv := range []struct {
		key string
		val *string
	}{
		{"Model", a.Model},
		{"Registration", a.Registration},
		{"Operator", a.Operator},
	} {
		if kv.val != nil && *kv.val != "" {
			rows = append(rows, [2]string{kv.key, *kv.val})
		}
	}
	widths := []float64{50, p.width - 50}
	p.pdf.SetDrawColor(gridColor.r, gridColor.g, gridColor.b)
	p.pdf.SetLineWidth(0.2)
	for _, r := range rows {
		p.pdf.SetFillColor(keyFill.r, keyFill.g, keyFill.b)
		p.row([]string{r[0], r[1]}, widths, []string{"L", "L"}, []string{"B", ""}, []bool{true, false}, 11)
	}
	p.pdf.Ln(3)
}

func (p *page) actions(actions []Action) {
	for i, a := range actions {
		head := p.tr(fmt.Sprintf("%d. %s", i+1, a.Action))
		var details []string
		if a.Result != nil {
			details = append(details, p.tr("Result: "+*a.Result))
		}
		if a.Date != nil {
			details = append(details, p.tr("Date: "+*a.Date))
		}

		p.pdf.SetFont("Helvetica", "B", 11)
		need := float64(len(p.wrap(head, p.width))) * lineH
		p.pdf.SetFont("Helvetica", "", 11)
		for _, d := range details {
			need += float64(len(p.wrap(d, p.width))) * lineH
		}
		p.keep(need + 3)

		p.font("B", 11, rgb{})
		p.pdf.MultiCell(0, lineH, head, "", "L", false)
		p.font("", 11, rgb{0x33, 0x33, 0x33})
		for _, d := range details {
			p.pdf.MultiCell(0, lineH, d, "", "L", false)
		}
		p.pdf.Ln(3)
	}
}

func (p *page) parts(parts []Part) {
	p.pdf.SetDrawColor(gridColor.r, gridColor.g, gridColor.b)
	p.pdf.SetLineWidth(0.2)
	head := func() {
		p.pdf.SetFillColor(sectionColor.r, sectionColor.g, sectionColor.b)
		p.pdf.SetTextColor(0xf5, 0xf5, 0xf5)
		p.row([]string{"Part", "Part Number", "Quantity"}, partColumns,
			[]string{"C", "C", "C"}, []string{"B", "B", "B"}, []bool{true, true, true}, 12)
	}
	p.keep(3 * (lineH + 2*cellPadY))
	head()
	for i, part := range parts {
		number := "N/A"
		if part.PartNumber != nil {
			number = *part.PartNumber
		}
		cells := []string{part.PartName, number, strconv.Itoa(max(part.Quantity, 1))}
		p.pdf.SetFont("Helvetica", "", 10)
		if p.pdf.GetY()+p.rowHeight(cells, partColumns) > p.bottom {
			p.pdf.AddPage()
			head()
		}
		shaded := i%2 == 0
		if shaded {
			p.pdf.SetFillColor(rowShade.r, rowShade.g, rowShade.b)
		} else {
			p.pdf.SetFillColor(255, 255, 255)
		}
		p.pdf.SetTextColor(0, 0, 0)
		p.row(cells, partColumns, []string{"L", "L", "C"}, []string{"", "", ""}, []bool{shaded, shaded, shaded}, 10)
	}
	p.pdf.Ln(3)
}

// row draws one bordered table row; every cell takes the height of the
// tallest wrapped cell. The caller sets fill and text colors.
func (p *page) row(cells []string, widths []float64, aligns, styles []string, fill []bool, size float64) {
	lines := make([][]string, len(cells))
	n := 1
	for i, c := range cells {
		p.pdf.SetFont("Helvetica", styles[i], size)
		lines[i] = p.wrap(p.tr(c), widths[i]-2*cellPadX)
		n = max(n, len(lines[i]))
	}
	h := float64(n)*lineH + 2*cellPadY
	p.keep(h)

	left, _, _, _ := p.pdf.GetMargins()
	x, y := left, p.pdf.GetY()
	for i := range cells {
		style := "D"
		if fill[i] {
			style = "FD"
		}
		p.pdf.Rect(x, y, widths[i], h, style)
		p.pdf.SetFont("Helvetica", styles[i], size)
		for j, ln := range lines[i] {
			p.pdf.SetXY(x+cellPadX, y+cellPadY+float64(j)*lineH)
			p.pdf.CellFormat(widths[i]-2*cellPadX, lineH, ln, "", 0, aligns[i], false, 0, "")
		}
		x += widths[i]
	}
	p.pdf.SetXY(left, y+h)
}

func (p *page) rowHeight(cells []string, widths []float64) float64 {
	n := 1
	for i, c := range cells {
		n = max(n, len(p.wrap(p.tr(c), widths[i]-2*cellPadX)))
	}
	return float64(n)*lineH + 2*cellPadY
}

// keep starts a new page when h does not fit below the cursor. Blocks taller
// than a page flow across pages instead.
func (p *page) keep(h float64) {
	_, top, _, _ := p.pdf.GetMargins()
	if h > p.bottom-top {
		return
	}
	if p.pdf.GetY()+h > p.bottom {
		p.pdf.AddPage()
	}
}

// wrap splits already translated text into lines no wider than w with the
// current font. Words longer than w are broken by byte.
func (p *page) wrap(s string, w float64) []string {
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			for p.pdf.GetStringWidth(word) > w && len(word) > 1 {
				cut := len(word) - 1
				for cut > 1 && p.pdf.GetStringWidth(word[:cut]) > w {
					cut--
				}
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				lines = append(lines, word[:cut])
				word = word[cut:]
			}
			switch {
			case line == "":
				line = word
			case p.pdf.GetStringWidth(line+" "+word) <= w:
				line += " " + word
			default:
				lines = append(lines, line)
				line = word
			}
		}
		lines = append(lines, line)
	}
	return lines
}
