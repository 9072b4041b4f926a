// Package i18n holds the user-visible fallback strings.
package i18n

import "strings"

// Catalog is the set of localized strings the client shows on its own.
type Catalog struct {
	Locale             string
	NewChatTitle       string
	SessionStartFailed string
	NoReply            string
	MessageReceived    string
	LoginFailed        string
	RegisterFailed     string
	PasswordMismatch   string
	FieldsRequired     string
	DeleteFailed       string
	RateLimited        string
	SessionExpired     string
}

var arabic = Catalog{
	Locale:             "ar",
	NewChatTitle:       "محادثة جديدة",
	SessionStartFailed: "عذراً، لم نتمكن من بدء جلسة جديدة. يرجى المحاولة مرة أخرى.",
	NoReply:            "عذراً، لم نتمكن من الحصول على رد. يرجى المحاولة مرة أخرى.",
	MessageReceived:    "تم استلام رسالتك",
	LoginFailed:        "فشل تسجيل الدخول. يرجى المحاولة مرة أخرى.",
	RegisterFailed:     "فشل إنشاء الحساب. يرجى المحاولة مرة أخرى.",
	PasswordMismatch:   "كلمات المرور غير متطابقة",
	FieldsRequired:     "يرجى ملء جميع الحقول المطلوبة",
	DeleteFailed:       "فشل حذف المحادثة. حاول مرة أخرى.",
	RateLimited:        "أرسلت رسائل كثيرة. يرجى الانتظار قليلاً.",
	SessionExpired:     "انتهت صلاحية الجلسة. يرجى تسجيل الدخول مرة أخرى.",
}

var english = Catalog{
	Locale:             "en",
	NewChatTitle:       "New chat",
	SessionStartFailed: "Sorry, we could not start a new session. Please try again.",
	NoReply:            "Sorry, we could not get a reply. Please try again.",
	MessageReceived:    "Your message was received",
	LoginFailed:        "Login failed. Please try again.",
	RegisterFailed:     "Could not create the account. Please try again.",
	PasswordMismatch:   "Passwords do not match",
	FieldsRequired:     "Please fill in all required fields",
	DeleteFailed:       "Could not delete the conversation. Try again.",
	RateLimited:        "Too many messages. Please wait a moment.",
	SessionExpired:     "Your session expired. Please log in again.",
}

// Lookup returns the catalog for locale ("ar" or "en", region suffixes
// ignored). Unknown locales get Arabic, the product default.
func Lookup(locale string) Catalog {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	if locale == "en" {
		return english
	}
	return arabic
}
