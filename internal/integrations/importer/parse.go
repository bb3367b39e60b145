package importer

import (
	"bufio"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"
)

// xmlProduct – jeden <product> z eksportu katalogu
type xmlProduct struct {
	ID          int64  `xml:"id"`
	ParentID    string `xml:"parent_id"` // bywa puste → string
	SKU         string `xml:"sku"`
	Name        string `xml:"name"`
	Type        string `xml:"type"`
	Status      string `xml:"status"`
	CategoryID  string `xml:"category_id"`
	StockQty    string `xml:"stock_quantity"` // "" = stan nieśledzony
	ManageStock string `xml:"manage_stock"`   // "Y"/"N"
	Price       string `xml:"regular_price"`
}

func (p xmlProduct) record() catalog.Record {
	r := catalog.Record{
		ID:          p.ID,
		ParentID:    i64(p.ParentID),
		SKU:         strings.TrimSpace(p.SKU),
		Name:        strings.TrimSpace(p.Name),
		Kind:        catalog.Kind(strings.ToLower(strings.TrimSpace(p.Type))),
		Status:      catalog.Status(strings.ToLower(strings.TrimSpace(p.Status))),
		CategoryID:  i64(p.CategoryID),
		ManageStock: yn(p.ManageStock),
		Price:       num(p.Price),
	}
	if s := strings.TrimSpace(p.StockQty); s != "" {
		q := num(s).IntPart()
		r.Quantity = &q
	}
	return r
}

// parser strumieniowo czyta eksport: <export_id> oraz kolejne <product>
type parser struct {
	dec      *xml.Decoder
	exportID string
}

func newParser(r io.Reader) *parser {
	dec := xml.NewDecoder(bufio.NewReader(r))
	dec.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(normalizeCharset(cs), in)
	}
	return &parser{dec: dec}
}

// next zwraca kolejny produkt albo io.EOF
func (p *parser) next() (xmlProduct, error) {
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return xmlProduct{}, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(se.Name.Local, "export_id"):
			var v string
			if err := p.dec.DecodeElement(&v, &se); err != nil {
				return xmlProduct{}, err
			}
			p.exportID = strings.TrimSpace(v)
		case strings.EqualFold(se.Name.Local, "product"):
			var xp xmlProduct
			if err := p.dec.DecodeElement(&xp, &se); err != nil {
				return xmlProduct{}, err
			}
			return xp, nil
		}
	}
}

// readExportID – tylko nagłówek pliku, bez dekodowania produktów
func readExportID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	p := newParser(f)
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if strings.EqualFold(se.Name.Local, "products") {
			return "", nil // export_id musi być przed listą
		}
		if strings.EqualFold(se.Name.Local, "export_id") {
			var v string
			if err := p.dec.DecodeElement(&v, &se); err != nil {
				return "", err
			}
			return strings.TrimSpace(v), nil
		}
	}
}

func inferTimeFromName(name string) string {
	// catalog_xxxx_yyyyMMddHHmmss.xml
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return ""
	}
	ts := parts[len(parts)-1]
	if len(ts) != 14 {
		return ""
	}
	if _, err := strconv.ParseUint(ts, 10, 64); err != nil {
		return ""
	}
	return ts[:4] + "-" + ts[4:6] + "-" + ts[6:8] + " " + ts[8:10] + ":" + ts[10:12] + ":" + ts[12:14] + "Z"
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// normalizeCharset mapuje nietypowe etykiety na standardowe nazwy rozpoznawane przez charset.NewReaderLabel
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	default:
		return c
	}
}

func yn(s string) bool {
	switch strings.TrimSpace(strings.ToUpper(s)) {
	case "Y", "T", "1", "TAK", "TRUE", "YES":
		return true
	default:
		return false
	}
}

// num – liczba z eksportu, przecinek dziesiętny dozwolony; śmieci = 0
func num(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func i64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
