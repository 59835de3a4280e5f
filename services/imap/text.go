package imap

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/jaytaylor/html2text"
)

// CleanedText extracts readable text from a raw message: quoted plain-text lines and
// HTML blockquotes are dropped, and HTML is converted to text.
func CleanedText(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return "", err
	}

	text, err := entityText(entity)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func entityText(entity *message.Entity) (string, error) {
	if entity == nil {
		return "", nil
	}

	mediaType, _, _ := entity.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)

	if disposition, _, _ := entity.Header.ContentDisposition(); strings.EqualFold(disposition, "attachment") {
		return "", nil
	}

	if reader := entity.MultipartReader(); reader != nil {
		if mediaType == "multipart/alternative" {
			return alternativeText(reader)
		}
		return mixedText(reader)
	}

	switch mediaType {
	case "text/plain":
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", err
		}
		return RemoveQuotedLines(string(body)), nil
	case "text/html":
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", err
		}
		return HtmlToText(string(body))
	default:
		return "", nil
	}
}

func alternativeText(reader message.MultipartReader) (string, error) {
	var plain, html string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", err
		}

		mediaType, _, _ := part.Header.ContentType()
		text, err := entityText(part)
		if err != nil {
			return "", err
		}

		switch strings.ToLower(mediaType) {
		case "text/plain":
			if plain == "" {
				plain = text
			}
		case "text/html":
			if html == "" {
				html = text
			}
		default:
			if plain == "" && text != "" {
				plain = text
			}
		}
	}

	if strings.TrimSpace(plain) != "" {
		return plain, nil
	}
	return html, nil
}

func mixedText(reader message.MultipartReader) (string, error) {
	var texts []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", err
		}

		text, err := entityText(part)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) != "" {
			texts = append(texts, strings.TrimSpace(text))
		}
	}
	return strings.Join(texts, " "), nil
}

// RemoveQuotedLines drops every line whose first non-blank character is '>'.
func RemoveQuotedLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// HtmlToText removes <blockquote> elements and renders the rest as plain text.
func HtmlToText(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("blockquote, script, style").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", err
	}

	return html2text.FromString(cleaned, html2text.Options{OmitLinks: true})
}
