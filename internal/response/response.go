// Package response builds Send API message objects.
package response

import (
	"github.com/BTreeMap/PagePipe/internal/models"
)

// Option is a quick reply choice.
type Option struct {
	Title   string
	Payload string
}

// Text builds a plain text message.
func Text(text string) models.Message {
	return models.Message{Text: text}
}

// QuickReply builds a text message with quick reply chips.
func QuickReply(text string, options []Option) models.Message {
	replies := make([]models.QuickReply, 0, len(options))
	for _, o := range options {
		replies = append(replies, models.QuickReply{ContentType: "text", Title: o.Title, Payload: o.Payload})
	}
	return models.Message{Text: text, QuickReplies: replies}
}

// Image builds an image attachment message.
func Image(url string) models.Message {
	return models.Message{Attachment: &models.Attachment{
		Type:    models.AttachmentImage,
		Payload: &models.AttachmentPayload{URL: url, IsReusable: true},
	}}
}

// ButtonTemplate builds a text with up to three buttons.
func ButtonTemplate(text string, buttons ...models.Button) models.Message {
	return models.Message{Attachment: &models.Attachment{
		Type: models.AttachmentTemplate,
		Payload: &models.AttachmentPayload{
			TemplateType: models.TemplateButton,
			Text:         text,
			Buttons:      buttons,
		},
	}}
}

// GenericTemplate builds a carousel of cards.
func GenericTemplate(elements ...models.Element) models.Message {
	return models.Message{Attachment: &models.Attachment{
		Type: models.AttachmentTemplate,
		Payload: &models.AttachmentPayload{
			TemplateType: models.TemplateGeneric,
			Elements:     elements,
		},
	}}
}

// Element builds a generic template card.
func Element(title, subtitle, imageURL string, buttons ...models.Button) models.Element {
	return models.Element{Title: title, Subtitle: subtitle, ImageURL: imageURL, Buttons: buttons}
}

// PostbackButton builds a button that posts payload back to the webhook.
func PostbackButton(title, payload string) models.Button {
	return models.Button{Type: models.ButtonPostback, Title: title, Payload: payload}
}

// URLButton builds a button that opens url.
func URLButton(title, url string) models.Button {
	return models.Button{Type: models.ButtonWebURL, Title: title, URL: url}
}

// RecurringNotificationsOptin builds the recurring notification optin template.
// The frequency is one of DAILY, WEEKLY or MONTHLY.
func RecurringNotificationsOptin(title, imageURL, payload, frequency, timezone string) models.Message {
	return models.Message{Attachment: &models.Attachment{
		Type: models.AttachmentTemplate,
		Payload: &models.AttachmentPayload{
			TemplateType:                  models.TemplateNotificationMessages,
			Title:                         title,
			ImageURL:                      imageURL,
			Payload:                       payload,
			NotificationMessagesFrequency: frequency,
			NotificationMessagesTimezone:  timezone,
		},
	}}
}
