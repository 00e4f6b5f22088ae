// Package mail renders and sends order confirmation emails.
package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// Email is a rendered message ready to send.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

const confirmationHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="background:#f1f5f9;font-family:sans-serif;margin:0;padding:0">
<div style="max-width:640px;margin:0 auto;background:#fff">
  <div style="padding:32px 24px;background:#f8fafc">
    <h1 style="color:#1e293b;font-size:24px">Thank you for your order!</h1>
    <p>{{if .CustomerName}}Hi {{.CustomerName}},{{else}}Hi,{{end}}</p>
    <p>We received your order and are processing it.</p>
  </div>
  <div style="padding:24px">
    <h2 style="color:#1e293b;font-size:18px">Order details</h2>
    <p><strong>Order reference:</strong> {{.OrderID}}</p>
    <p><strong>Payment method:</strong> {{.PaymentMethod}}</p>
    <p><strong>Email:</strong> {{.CustomerEmail}}</p>
  </div>
  <table style="width:100%;border-collapse:collapse">
    <tr><th colspan="3" style="background:#dc2626;color:#fff;text-align:left;padding:16px 24px">Products</th></tr>
    {{- range .Items}}
    <tr style="border-bottom:1px solid #e2e8f0">
      <td style="width:80px;padding:16px 0 16px 24px">{{if .ProductImage}}<img src="{{.ProductImage}}" alt="{{.ProductName}}" width="60" height="80">{{end}}</td>
      <td style="padding:16px">{{.ProductName}}</td>
      <td style="text-align:right;padding:16px 24px 16px 0">{{.Amount}}</td>
    </tr>
    {{- end}}
    <tr style="border-top:2px solid #dc2626;background:#f8fafc">
      <td></td>
      <td style="text-align:right;padding:20px 16px"><strong>Total:</strong></td>
      <td style="text-align:right;padding:20px 24px 20px 0;color:#dc2626"><strong>{{.Total}}</strong></td>
    </tr>
  </table>
</div>
</body>
</html>
`

var confirmationTmpl = template.Must(template.New("confirmation").Parse(confirmationHTML))

type itemView struct {
	ProductName  string
	ProductImage string
	Amount       string
}

type confirmationView struct {
	Subject       string
	CustomerName  string
	CustomerEmail string
	OrderID       string
	PaymentMethod string
	Items         []itemView
	Total         string
}

// Renderer builds confirmation emails.
type Renderer struct {
	From     string
	Subject  string
	Currency string
}

// Confirmation renders the order confirmation for order.
func (r Renderer) Confirmation(order domain.OrderMessage) (Email, error) {
	view := confirmationView{
		Subject:       r.Subject,
		CustomerName:  order.Name(),
		CustomerEmail: order.CustomerEmail,
		OrderID:       order.OrderID,
		PaymentMethod: order.PaymentMethod.Label(),
		Total:         FormatAmount(order.Total, r.Currency),
	}
	for _, it := range order.Items {
		view.Items = append(view.Items, itemView{
			ProductName:  it.ProductName,
			ProductImage: it.ProductImage,
			Amount:       FormatAmount(it.Amount, r.Currency),
		})
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, view); err != nil {
		return Email{}, fmt.Errorf("render confirmation %s: %w", order.OrderID, err)
	}
	return Email{
		From:    r.From,
		To:      []string{order.CustomerEmail},
		Subject: r.Subject,
		HTML:    buf.String(),
	}, nil
}

// FormatAmount renders minor units as "$25.00 MXN".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s$%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}
