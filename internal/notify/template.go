package notify

const confirmationTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Thank you for your order</h2>
  <p>Your payment to {{.StoreName}} was received on {{.SettledAt}}.</p>
  <p>Order number: <strong>{{.OrderNumber}}</strong></p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th><th align="right">Subtotal</th></tr>
    {{- range .Items}}
    <tr>
      <td>{{.Name}}{{if .DownloadURL}}<br><a href="{{.DownloadURL}}">Download</a>{{end}}</td>
      <td align="center">{{.Quantity}}</td>
      <td align="right">{{.Price}}</td>
      <td align="right">{{.Subtotal}}</td>
    </tr>
    {{- end}}
  </table>
  <p>Subtotal: {{.Subtotal}}</p>
  {{- if .HasDiscount}}
  <p>Discount: -{{.Discount}}</p>
  {{- end}}
  <p><strong>Total: {{.Total}}</strong></p>
  {{- if .Converted}}
  <p>Charged: {{.PaidAmount}} {{.PaidCurrency}}</p>
  {{- end}}
</body>
</html>
`
