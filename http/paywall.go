package http

import (
	"bytes"
	"html/template"
	"strings"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// PaywallProvider renders the HTML returned to browsers instead of a JSON challenge
type PaywallProvider interface {
	GenerateHTML(challenge x402.PaymentRequiredResponse) string
}

// PaywallConfig customizes the built-in paywall page
type PaywallConfig struct {
	AppName string
	AppLogo string
}

// TemplatePaywall renders a challenge through an html/template
type TemplatePaywall struct {
	tmpl   *template.Template
	config PaywallConfig
}

type paywallData struct {
	Config    PaywallConfig
	Challenge x402.PaymentRequiredResponse
	Family    string
}

const defaultPaywallTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .Config.AppName}}{{.Config.AppName}} - {{end}}Payment Required</title>
</head>
<body>
{{if .Config.AppLogo}}<img src="{{.Config.AppLogo}}" alt="logo">{{end}}
<h1>Payment Required</h1>
<p>Access to <code>{{.Challenge.ResourceID}}</code> costs {{.Challenge.DisplayPrice}}.</p>
<dl>
<dt>Network</dt><dd id="network" data-family="{{.Family}}">{{.Challenge.Network}}</dd>
<dt>Pay to</dt><dd id="recipient">{{.Challenge.WalletAddress}}</dd>
<dt>Amount</dt><dd id="amount">{{.Challenge.Price}}</dd>
</dl>
<ol>
{{range .Challenge.Instructions}}<li data-action="{{.Action}}">{{.Description}}</li>
{{end}}</ol>
</body>
</html>
`

// NewPaywall creates the built-in paywall
func NewPaywall(config PaywallConfig) *TemplatePaywall {
	return &TemplatePaywall{
		tmpl:   template.Must(template.New("paywall").Parse(defaultPaywallTemplate)),
		config: config,
	}
}

// NewTemplatePaywall creates a paywall from a custom template. The template
// receives .Config, .Challenge and .Family ("evm", "svm" or "").
func NewTemplatePaywall(text string, config PaywallConfig) (*TemplatePaywall, error) {
	tmpl, err := template.New("paywall").Parse(text)
	if err != nil {
		return nil, err
	}
	return &TemplatePaywall{tmpl: tmpl, config: config}, nil
}

// GenerateHTML renders the page, falling back to a bare page if rendering fails
func (p *TemplatePaywall) GenerateHTML(challenge x402.PaymentRequiredResponse) string {
	var buf bytes.Buffer
	err := p.tmpl.Execute(&buf, paywallData{
		Config:    p.config,
		Challenge: challenge,
		Family:    networkFamily(challenge.Network),
	})
	if err != nil {
		return "<html><body>Payment Required</body></html>"
	}
	return buf.String()
}

func networkFamily(n x402.Network) string {
	switch {
	case strings.HasPrefix(string(n), "eip155:"):
		return "evm"
	case strings.HasPrefix(string(n), "solana:"):
		return "svm"
	default:
		return ""
	}
}
