package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"drive-relay/internal/confirm"
	"drive-relay/internal/model"
	"drive-relay/internal/parser"
	"drive-relay/internal/ratelimit"
	"drive-relay/internal/summarize"
)

const listDisplayLimit = 10

const (
	replySystemError = "❌ Sorry, there was a system error. Please try again later or contact support."
	replyAuthFailed  = "❌ **Authentication Failed**\n\nStorage authentication required. Please contact the administrator."
)

func rateLimitedReply(decision ratelimit.Decision, window time.Duration) string {
	span := windowPhrase(window)
	return fmt.Sprintf("⚠️ **Rate limit exceeded**\n\n"+
		"You've sent %d messages in the last %s.\n"+
		"Limit: %d messages per %s.\n"+
		"Please wait before sending more commands.", decision.Used, span, decision.Limit, span)
}

// windowPhrase renders a limiter window as "hour", "2 hours" or "15 minutes".
func windowPhrase(window time.Duration) string {
	switch {
	case window <= 0 || window == time.Hour:
		return "hour"
	case window == time.Minute:
		return "minute"
	case window%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(window/time.Hour))
	case window%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(window/time.Minute))
	}
	return window.String()
}

func invalidReply(detail string) string {
	return fmt.Sprintf("❌ **Invalid Command**\n\n%s\n\nSend `HELP` to see available commands.", detail)
}

// userError hides wrapping noise for sentinels the user can act on.
func userError(err error) string {
	switch {
	case errors.Is(err, model.ErrTimeout):
		return "The storage or summarization service took too long to answer. Please try again."
	case errors.Is(err, model.ErrContentTooShort):
		return "Content too short to summarize."
	}
	return err.Error()
}

func errorReply(title string, err error) string {
	return fmt.Sprintf("❌ **%s**\n\n%s", title, userError(err))
}

func listReply(requested string, listing model.Listing) string {
	shown := listing.Path
	if shown == "" {
		shown = requested
	}

	parts := []string{fmt.Sprintf("📁 **Files in %s**\n", shown)}

	if len(listing.Folders) > 0 {
		parts = append(parts, "**📁 Folders:**")
		for _, folder := range head(listing.Folders, listDisplayLimit) {
			parts = append(parts, "📁 "+folder.Name)
		}
	}

	if len(listing.Files) > 0 {
		parts = append(parts, "\n**📄 Files:**")
		for _, file := range head(listing.Files, listDisplayLimit) {
			parts = append(parts, fmt.Sprintf("%s %s (%s)", file.Label, file.Name, file.SizeHuman))
		}
	}

	if len(listing.Folders) == 0 && len(listing.Files) == 0 {
		parts = append(parts, "📭 Folder is empty")
	}

	if listing.TotalCount > listDisplayLimit {
		parts = append(parts, fmt.Sprintf("\n... and %d more items", listing.TotalCount-listDisplayLimit))
	}

	parts = append(parts,
		"\n💡 **Next steps:**",
		fmt.Sprintf("• `SUMMARY %s` - Get AI summary", requested),
		fmt.Sprintf("• `LIST %s` - Browse subfolder", parser.Join(requested, "subfolder")),
	)
	return strings.Join(parts, "\n")
}

func head(items []model.StorageItem, n int) []model.StorageItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func deleteConfirmationReply(path string, token string, window time.Duration) string {
	return fmt.Sprintf(`⚠️ **DELETION CONFIRMATION REQUIRED**

You want to delete: `+"`%s`"+`

🚨 **This action CANNOT be undone from chat!**

To confirm deletion, reply with:
`+"`%s`"+`

To cancel, ignore this message.

⏰ This confirmation expires in %s.
🔒 Nothing has been deleted yet.`, path, token, humanWindow(window))
}

func humanWindow(window time.Duration) string {
	minutes := int(window.Round(time.Minute) / time.Minute)
	switch {
	case window < time.Minute:
		return fmt.Sprintf("%d seconds", int(window/time.Second))
	case minutes == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

func confirmationFailedReply(err error) string {
	return fmt.Sprintf("❌ **Confirmation Failed**\n\n%s\n\nNothing was deleted. Send `DELETE <path>` to request a new code.", confirm.Describe(err))
}

func deletionFailedReply(path string, err error) string {
	return fmt.Sprintf("❌ **Deletion Failed**\n\nFile: `%s`\n%s\n\nThe file was NOT moved to trash.", path, userError(err))
}

func deletedReply(path string, op model.OperationResult) string {
	return fmt.Sprintf(`✅ **File Deleted Successfully**

File: `+"`%s`"+`
Status: %s

🗑️ File moved to trash
🔄 Can be restored from trash if needed`, path, op.Message)
}

func movedReply(source string, destination string) string {
	return fmt.Sprintf(`✅ **File Moved Successfully**

From: `+"`%s`"+`
To: `+"`%s`"+`

📦 File is now in the new location`, source, destination)
}

func fileSummaryReply(path string, summary model.Summary, content model.FileContent) string {
	fileType := content.Type
	if fileType == "" {
		fileType = "Unknown"
	}
	return fmt.Sprintf(`🤖 **AI Summary for %s**

%s

📊 **Details:**
• Service: %s
• File type: %s
• Content size: %d characters`, path, summary.Text, summary.Service, fileType, content.Size)
}

func noSummarizableFilesReply(path string, listing model.Listing) string {
	return fmt.Sprintf(`📁 **Folder Summary for %s**

📊 **Contents:**
• %d folders
• %d files

⚠️ No text files found for AI analysis.
Supported formats: TXT, Markdown, CSV, JSON and other text files`, path, len(listing.Folders), len(listing.Files))
}

func folderSummaryReply(path string, folder model.FolderSummary, analyzed int, total int, maxFiles int) string {
	text := folder.Text
	if text == "" {
		text = "Unable to generate summary"
	}

	parts := []string{
		fmt.Sprintf("🤖 **AI Folder Summary for %s**\n", path),
		text,
		"\n📊 **Analysis Details:**",
		fmt.Sprintf("• Files analyzed: %d", analyzed),
		fmt.Sprintf("• Total files in folder: %d", total),
		fmt.Sprintf("• AI service: %s", folder.Service),
	}
	if total > maxFiles {
		parts = append(parts, fmt.Sprintf("\n💡 Only first %d files were analyzed. Use `LIST %s` to see all files.", maxFiles, path))
	}
	return strings.Join(parts, "\n")
}

func (d *Dispatcher) helpReply() string {
	services := []string{summarize.BasicServiceName}
	if d.deps.Summarizer != nil {
		services = d.deps.Summarizer.Services()
	}
	return HelpText(d.cfg.RateLimitPerHour, d.deps.Limiter.Window(), services)
}

// HelpText is the HELP reply for the given per-window limit and summarizers.
func HelpText(limit int, window time.Duration, services []string) string {
	return fmt.Sprintf(`📁 **Drive Relay - Chat File Manager**

**📋 Available Commands:**

**List Files:**
• `+"`LIST /ProjectX`"+` - Show files in folder
• `+"`ls /Documents`"+` - Same as LIST

**🗑️ Delete Files:**
• `+"`DELETE /ProjectX/report.pdf`"+` - Delete file (with confirmation)
• `+"`rm /old_file.txt`"+` - Same as DELETE

**📦 Move Files:**
• `+"`MOVE /ProjectX/report.pdf TO /Archive`"+` - Move file
• `+"`mv /source.pdf /destination`"+` - Same as MOVE

**🤖 AI Summary:**
• `+"`SUMMARY /ProjectX`"+` - Get AI summary of folder
• `+"`sum /document.txt`"+` - Summarize single file

**ℹ️ Help:**
• `+"`HELP`"+`, `+"`?`"+` or `+"`commands`"+` - Show this message

**🔒 Safety Features:**
• All operations are logged
• DELETE requires confirmation
• Rate limiting: %d commands per %s
• Files moved to trash (recoverable)

**🤖 AI Services:** %s

**💡 Tips:**
• Folders start with /
• Check `+"`LIST /`"+` to see root folder`, limit, windowPhrase(window), strings.Join(services, ", "))
}
