// Package snapshot persists the working set as gzip-compressed JSON lines.
//
// The file is a cache of previously observed state. It seeds status floors
// across restarts and is never authoritative.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// maxLine bounds one encoded order, raw upstream object included.
const maxLine = 8 << 20

// Save writes orders to path atomically: the data goes to a temporary file
// in the same directory which is then renamed over path.
func Save(ctx context.Context, path string, orders []*order.Order) (rerr error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if rerr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(ctx, tmp, orders); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}

func write(ctx context.Context, f *os.File, orders []*order.Order) error {
	gz := pgzip.NewWriter(f)
	var e jx.Encoder
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o == nil {
			continue
		}
		e.Reset()
		encodeOrder(&e, o)
		if _, err := gz.Write(append(e.Bytes(), '\n')); err != nil {
			return errors.Wrapf(err, "write order %s", o.ID)
		}
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "flush gzip")
	}
	return nil
}

// Load reads orders from path. A missing file yields no orders and no
// error.
func Load(ctx context.Context, path string) ([]*order.Order, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var out []*order.Order
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		o, err := decodeOrder(b)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	return out, nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		strField(e, "code", o.Code)
		strField(e, "title", o.Title)
		strField(e, "status", o.Status.String())
		strField(e, "rawStatus", o.RawStatus)
		timeField(e, "createdAt", o.CreatedAt)
		timeField(e, "updatedAt", o.UpdatedAt)
		if o.CanceledAt != nil {
			timeField(e, "canceledAt", *o.CanceledAt)
		}
		strField(e, "cancelReason", o.CancelReason)
		e.Field("price", func(e *jx.Encoder) { e.Str(o.Price.String()) })
		e.Field("shippingFee", func(e *jx.Encoder) { e.Str(o.ShippingFee.String()) })
		e.Field("finalPrice", func(e *jx.Encoder) { e.Str(o.FinalPrice.String()) })
		e.Field("shipping", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				strField(e, "address", o.Shipping.Address)
				strField(e, "phone", o.Shipping.Phone)
				strField(e, "carrier", o.Shipping.Carrier)
				strField(e, "trackingNumber", o.Shipping.TrackingNumber)
			})
		})
		e.Field("payment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				strField(e, "method", o.Payment.Method)
				strField(e, "transactionId", o.Payment.TransactionID)
				if o.Payment.PaidAt != nil {
					timeField(e, "paidAt", *o.Payment.PaidAt)
				}
			})
		})
		e.Field("hasDispute", func(e *jx.Encoder) { e.Bool(o.HasDispute) })
		e.Field("hasReview", func(e *jx.Encoder) { e.Bool(o.HasReview) })
		e.Field("reviewChecked", func(e *jx.Encoder) { e.Bool(o.ReviewChecked) })
		e.Field("receiptConfirmed", func(e *jx.Encoder) { e.Bool(o.ReceiptConfirmed) })
		if len(o.Raw) > 0 && jx.Valid(o.Raw) {
			e.Field("raw", func(e *jx.Encoder) { e.Raw(o.Raw) })
		}
	})
}

func strField(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	if t.IsZero() {
		return
	}
	e.Field(name, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339Nano)) })
}

func decodeOrder(b []byte) (*order.Order, error) {
	o := &order.Order{}
	d := jx.DecodeBytes(b)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "code":
			o.Code, err = d.Str()
		case "title":
			o.Title, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			o.Status = order.Status(s)
		case "rawStatus":
			o.RawStatus, err = d.Str()
		case "createdAt":
			o.CreatedAt, err = decodeTime(d)
		case "updatedAt":
			o.UpdatedAt, err = decodeTime(d)
		case "canceledAt":
			var t time.Time
			if t, err = decodeTime(d); err == nil {
				o.CanceledAt = &t
			}
		case "cancelReason":
			o.CancelReason, err = d.Str()
		case "price":
			o.Price, err = decodeMoney(d)
		case "shippingFee":
			o.ShippingFee, err = decodeMoney(d)
		case "finalPrice":
			o.FinalPrice, err = decodeMoney(d)
		case "shipping":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "address":
					o.Shipping.Address, err = d.Str()
				case "phone":
					o.Shipping.Phone, err = d.Str()
				case "carrier":
					o.Shipping.Carrier, err = d.Str()
				case "trackingNumber":
					o.Shipping.TrackingNumber, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		case "payment":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "method":
					o.Payment.Method, err = d.Str()
				case "transactionId":
					o.Payment.TransactionID, err = d.Str()
				case "paidAt":
					var t time.Time
					if t, err = decodeTime(d); err == nil {
						o.Payment.PaidAt = &t
					}
				default:
					err = d.Skip()
				}
				return err
			})
		case "hasDispute":
			o.HasDispute, err = d.Bool()
		case "hasReview":
			o.HasReview, err = d.Bool()
		case "reviewChecked":
			o.ReviewChecked, err = d.Bool()
		case "receiptConfirmed":
			o.ReceiptConfirmed, err = d.Bool()
		case "raw":
			var raw jx.Raw
			if raw, err = d.Raw(); err == nil {
				o.Raw = append([]byte(nil), raw...)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}
