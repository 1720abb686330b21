package vo

// MailProvider 邮件服务商
type MailProvider string

const (
	MailProviderGoogle    MailProvider = "google"
	MailProviderMicrosoft MailProvider = "microsoft"
	MailProviderSMTP      MailProvider = "smtp"
)

// ProviderPriority is the order in which configured accounts are preferred.
var ProviderPriority = []MailProvider{MailProviderGoogle, MailProviderMicrosoft, MailProviderSMTP}

func (p MailProvider) String() string { return string(p) }

func (p MailProvider) IsValid() bool {
	switch p {
	case MailProviderGoogle, MailProviderMicrosoft, MailProviderSMTP:
		return true
	}
	return false
}
