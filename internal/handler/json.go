package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-catalog/internal/domain/catalog"
	"github.com/xenking/kart-catalog/internal/domain/product"
)

const decodeBufSize = 4096

// malformedBodyError reports a request body that is not the expected JSON.
type malformedBodyError struct {
	err error
}

func (e *malformedBodyError) Error() string {
	return "malformed JSON body: " + e.err.Error()
}

func (e *malformedBodyError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	e.Num(jx.Num(p.Price.StringFixed(2)))
	e.FieldStart("createdAt")
	encodeTime(e, p.CreatedAt)
	e.FieldStart("image")
	if p.Image != nil {
		e.Str(*p.Image)
	} else {
		e.Null()
	}
	e.FieldStart("presentation")
	if p.Presentation != nil {
		encodePresentation(e, p.Presentation)
	} else {
		e.Null()
	}
	e.ObjEnd()
}

func encodePresentation(e *jx.Encoder, p *product.Presentation) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("createdAt")
	encodeTime(e, p.CreatedAt)
	e.ObjEnd()
}

func encodeFile(e *jx.Encoder, f *catalog.FileDescriptor) {
	e.ObjStart()
	e.FieldStart("fileName")
	e.Str(f.Name)
	e.FieldStart("downloadURI")
	e.Str(f.DownloadURI)
	e.FieldStart("size")
	e.Int64(f.Size)
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	if t.IsZero() {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// encodePage writes a page envelope around items.
func encodePage[T any](e *jx.Encoder, p *product.Page[T], item func(e *jx.Encoder, v *T)) {
	e.ObjStart()
	e.FieldStart("content")
	e.ArrStart()
	for i := range p.Items {
		item(e, &p.Items[i])
	}
	e.ArrEnd()
	e.FieldStart("page")
	e.Int(p.Index)
	e.FieldStart("size")
	e.Int(p.Size)
	e.FieldStart("totalElements")
	e.Int64(p.Total)
	e.FieldStart("totalPages")
	e.Int(p.TotalPages())
	e.ObjEnd()
}

// decodeDraft reads a product body. Unknown fields are ignored. The
// presentation may be given as "presentationId" or as {"presentation":{"id":N}}.
func decodeDraft(r io.Reader) (product.Draft, error) {
	var d product.Draft
	err := jx.Decode(r, decodeBufSize).Obj(func(dec *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeOptInt64(dec, &d.ID)
		case "name":
			return decodeOptStr(dec, &d.Name)
		case "description":
			return decodeOptStr(dec, &d.Description)
		case "price":
			price, err := decodeDecimal(dec)
			if err != nil {
				return err
			}
			d.Price = price
			return nil
		case "presentationId":
			return decodeRef(dec, &d.PresentationID)
		case "presentation":
			if dec.Next() == jx.Null {
				return dec.Null()
			}
			return dec.Obj(func(dec *jx.Decoder, key string) error {
				if key != "id" {
					return dec.Skip()
				}
				return decodeRef(dec, &d.PresentationID)
			})
		default:
			return dec.Skip()
		}
	})
	if err != nil {
		return product.Draft{}, &malformedBodyError{err: err}
	}
	return d, nil
}

func decodePresentationDraft(r io.Reader) (product.PresentationDraft, error) {
	var d product.PresentationDraft
	err := jx.Decode(r, decodeBufSize).Obj(func(dec *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeOptInt64(dec, &d.ID)
		case "name":
			return decodeOptStr(dec, &d.Name)
		case "description":
			return decodeOptStr(dec, &d.Description)
		default:
			return dec.Skip()
		}
	})
	if err != nil {
		return product.PresentationDraft{}, &malformedBodyError{err: err}
	}
	return d, nil
}

func decodeOptStr(dec *jx.Decoder, dst *string) error {
	if dec.Next() == jx.Null {
		return dec.Null()
	}
	v, err := dec.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeOptInt64(dec *jx.Decoder, dst *int64) error {
	if dec.Next() == jx.Null {
		return dec.Null()
	}
	v, err := dec.Int64()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeRef(dec *jx.Decoder, dst **int64) error {
	if dec.Next() == jx.Null {
		*dst = nil
		return dec.Null()
	}
	v, err := dec.Int64()
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(dec *jx.Decoder) (*decimal.Decimal, error) {
	var raw string
	switch dec.Next() {
	case jx.Null:
		return nil, dec.Null()
	case jx.String:
		s, err := dec.Str()
		if err != nil {
			return nil, err
		}
		raw = s
	default:
		n, err := dec.Num()
		if err != nil {
			return nil, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "price %q", raw)
	}
	return &v, nil
}
