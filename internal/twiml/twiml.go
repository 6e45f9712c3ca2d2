// Package twiml renders the XML reply body messaging webhooks expect.
package twiml

import (
	"encoding/xml"
	"net/http"
)

const ContentType = "application/xml"

// Apology is sent when the webhook fails before a reply could be built.
const Apology = "❌ Sorry, there was a system error. Please try again later or contact support."

type response struct {
	XMLName xml.Name `xml:"Response"`
	Message *message `xml:"Message,omitempty"`
}

type message struct {
	Body string `xml:",chardata"`
}

// Render returns a <Response> document. An empty text yields an empty
// <Response/> so the provider sends nothing back.
func Render(text string) []byte {
	doc := response{}
	if text != "" {
		doc.Message = &message{Body: text}
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return []byte(xml.Header + "<Response></Response>")
	}
	return append([]byte(xml.Header), out...)
}

func Write(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(Render(text))
}
