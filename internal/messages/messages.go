package messages

import (
	"fmt"
	"strings"

	"github.com/BatmanBruc/billing-engine/internal/i18n"
	"github.com/BatmanBruc/billing-engine/types"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func Title(text string) string {
	return fmt.Sprintf("✨ <b>%s</b>", Escape(text))
}

func kindLabel(lang i18n.Lang, kind types.ContributionKind) string {
	if kind == types.ContributionMonthly {
		return i18n.Pick(lang, "monthly", "ежемесячный")
	}
	return i18n.Pick(lang, "one-time", "разовый")
}

func money(amount, currency string) string {
	return fmt.Sprintf("%s %s", amount, strings.ToUpper(Escape(currency)))
}

// ContributionReceived announces a recorded contribution to the operator.
func ContributionReceived(lang i18n.Lang, c types.Contribution) string {
	var b strings.Builder
	b.WriteString(Title(i18n.Pick(lang, "New contribution", "Новый взнос")))
	b.WriteString("\n")
	fmt.Fprintf(&b, "👤 <b>%s</b> <code>%s</code>\n",
		i18n.Pick(lang, "Account:", "Аккаунт:"), Escape(string(c.AccountID)))
	fmt.Fprintf(&b, "💳 <b>%s</b> %s (%s)\n",
		i18n.Pick(lang, "Gross:", "Сумма:"), money(c.GrossAmount.StringFixed(2), c.Currency), kindLabel(lang, c.Kind))
	fmt.Fprintf(&b, "💰 <b>%s</b> %s\n",
		i18n.Pick(lang, "Net:", "Чистыми:"), money(c.NetAmount.StringFixed(2), c.Currency))
	fmt.Fprintf(&b, "🧾 <code>%s</code>", Escape(c.ProviderPaymentID))
	return b.String()
}

// SignatureRejected warns the operator about a webhook that failed
// verification.
func SignatureRejected(lang i18n.Lang, reason string) string {
	text := "🚨 <b>" + i18n.Pick(lang, "Webhook signature rejected", "Подпись вебхука отклонена") + "</b>"
	if reason = strings.TrimSpace(reason); reason != "" {
		text += "\n<code>" + Escape(reason) + "</code>"
	}
	return text
}
