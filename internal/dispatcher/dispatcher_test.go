package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"drive-relay/internal/audit"
	"drive-relay/internal/confirm"
	"drive-relay/internal/dedup"
	"drive-relay/internal/event"
	"drive-relay/internal/model"
	"drive-relay/internal/ratelimit"
	"drive-relay/internal/storage"
	"drive-relay/internal/summarize"
)

const sender = "whatsapp:+15550001111"

type harness struct {
	t       *testing.T
	d       *Dispatcher
	trail   *audit.Trail
	backend *storage.MockBackend
	gate    *confirm.Gate
	now     time.Time
	seq     int
}

func newHarness(t *testing.T, cfg Config, summarizer Summarizer) *harness {
	t.Helper()

	h := &harness{t: t, backend: &storage.MockBackend{}, now: time.Date(2026, 4, 2, 14, 30, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	h.trail = audit.NewTrail(audit.NewMemoryStore(1000), audit.WithClock(clock))
	h.gate = confirm.NewGate(confirm.DefaultWindow, confirm.WithClock(clock))
	if summarizer == nil {
		summarizer = summarize.New(0, nil)
	}

	h.d = New(cfg, Dependencies{
		Dedup:      dedup.New(time.Hour, 100),
		Limiter:    ratelimit.New(h.trail, h.trail, ratelimit.WithClock(clock)),
		Gate:       h.gate,
		Audit:      h.trail,
		Storage:    h.backend,
		Summarizer: summarizer,
		Bus:        event.NewBus(),
	})
	return h
}

func (h *harness) send(body string) string {
	h.t.Helper()
	h.seq++
	reply, handled := h.d.Handle(context.Background(), model.InboundMessage{
		MessageID: fmt.Sprintf("SM%04d", h.seq),
		SenderID:  sender,
		Body:      body,
	})
	require.True(h.t, handled)
	require.NotEmpty(h.t, reply)
	h.now = h.now.Add(time.Second)
	return reply
}

func (h *harness) entries(commandType string) []model.AuditEntry {
	h.t.Helper()
	entries, err := h.trail.Query(context.Background(), model.AuditFilter{CommandType: commandType})
	require.NoError(h.t, err)
	return entries
}

func (h *harness) authenticated() {
	h.backend.On("Authenticated").Return(true)
}

func items(kind string, names ...string) []model.StorageItem {
	out := make([]model.StorageItem, 0, len(names))
	for _, n := range names {
		out = append(out, model.StorageItem{Name: n, Type: kind, Label: "📄 Text", SizeHuman: "1.0 KB"})
	}
	return out
}

func TestListScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("List", mock.Anything, "/ProjectX").Return(model.Listing{
		Path:       "/ProjectX",
		Folders:    items(model.ItemTypeFolder, "Designs", "Specs"),
		Files:      items(model.ItemTypeFile, "a.txt", "b.txt", "c.txt"),
		TotalCount: 5,
	}, nil).Once()

	reply := h.send("list /ProjectX")

	require.Contains(t, reply, "📁 **Files in /ProjectX**")
	require.Less(t, strings.Index(reply, "Specs"), strings.Index(reply, "a.txt"))
	require.Contains(t, reply, "📄 Text c.txt (1.0 KB)")
	require.NotContains(t, reply, "more items")
	require.Contains(t, reply, "`LIST /ProjectX/subfolder`")

	entries := h.entries("LIST")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultSuccess, entries[0].Result)
	require.Equal(t, 5, entries[0].Extra["items_found"])

	processed := h.entries(model.CommandMessage)
	require.Len(t, processed, 1)
	require.Equal(t, model.ResultProcessed, processed[0].Result)
	require.Equal(t, "SM0001", processed[0].Extra["message_id"])
	h.backend.AssertExpectations(t)
}

func TestListCapsDisplayedItems(t *testing.T) {
	t.Parallel()

	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("file%02d.txt", i)
	}

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("List", mock.Anything, "/").Return(model.Listing{
		Path: "/", Files: items(model.ItemTypeFile, names...), TotalCount: 12,
	}, nil)

	reply := h.send("ls /")
	require.Contains(t, reply, "file09.txt")
	require.NotContains(t, reply, "file10.txt")
	require.Contains(t, reply, "... and 2 more items")
}

func TestListEmptyFolderAndError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("List", mock.Anything, "/Empty").Return(model.Listing{Path: "/Empty"}, nil)
	h.backend.On("List", mock.Anything, "/Missing").
		Return(model.Listing{}, fmt.Errorf("%w: folder not found: /Missing", model.ErrNotFound))

	require.Contains(t, h.send("LIST /Empty"), "📭 Folder is empty")

	reply := h.send("LIST /Missing")
	require.Contains(t, reply, "❌ **Error listing files**")
	require.Contains(t, reply, "folder not found: /Missing")

	failed, err := h.trail.Query(context.Background(), model.AuditFilter{CommandType: "LIST", Result: model.ResultFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "/Missing", failed[0].Path)
}

var tokenRe = regexp.MustCompile(`DELETE_\d{6}`)

func TestDeleteRequestAndConfirmation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("Delete", mock.Anything, "/ProjectX/report.pdf").
		Return(model.OperationResult{Message: "File moved to trash: /ProjectX/report.pdf"}, nil).Once()

	reply := h.send("delete /ProjectX/report.pdf")
	token := tokenRe.FindString(reply)
	require.Equal(t, "DELETE_143000", token)
	require.Contains(t, reply, "expires in 5 minutes")
	h.backend.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)

	requests := h.entries(model.CommandDeleteRequest)
	require.Len(t, requests, 1)
	require.Equal(t, model.ResultPendingConfirmation, requests[0].Result)
	require.Equal(t, "/ProjectX/report.pdf", requests[0].Path)

	h.now = h.now.Add(2 * time.Minute)
	confirmed := h.send(token)
	require.Contains(t, confirmed, "✅ **File Deleted Successfully**")
	require.Contains(t, confirmed, "File moved to trash")

	entries := h.entries(model.CommandDeleteConfirmed)
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultSuccess, entries[0].Result)
	require.Equal(t, "/ProjectX/report.pdf", entries[0].Path)

	again := h.send(token)
	require.Contains(t, again, "❌ **Confirmation Failed**")
	require.Contains(t, again, "No pending deletion")
	h.backend.AssertNumberOfCalls(t, "Delete", 1)
}

func TestDeleteConfirmationWithinDeleteCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("Delete", mock.Anything, "/old.txt").Return(model.OperationResult{Message: "ok"}, nil).Once()

	token := tokenRe.FindString(h.send("rm /old.txt"))
	reply := h.send("delete " + strings.ToLower(token))
	require.Contains(t, reply, "File Deleted Successfully")
	h.backend.AssertExpectations(t)
}

func TestDeletePathShapedLikeTokenStartsNewRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("Delete", mock.Anything, "/backups/DELETE_202401.zip").Return(model.OperationResult{Message: "ok"}, nil).Once()

	reply := h.send("delete /backups/DELETE_202401.zip")
	require.NotContains(t, reply, "Confirmation Failed")
	token := tokenRe.FindString(strings.ReplaceAll(reply, "DELETE_202401", ""))
	require.Equal(t, "DELETE_143000", token)

	requests := h.entries(model.CommandDeleteRequest)
	require.Len(t, requests, 1)
	require.Equal(t, "/backups/DELETE_202401.zip", requests[0].Path)

	require.Contains(t, h.send(token), "File Deleted Successfully")
	h.backend.AssertExpectations(t)
}

func TestDeleteConfirmationExpired(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()

	token := tokenRe.FindString(h.send("DELETE /a.txt"))
	h.now = h.now.Add(6 * time.Minute)

	reply := h.send(token)
	require.Contains(t, reply, "Confirmation expired")
	require.Contains(t, reply, "Nothing was deleted")
	h.backend.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)

	failed := h.entries(model.CommandDeleteConfirmed)
	require.Len(t, failed, 1)
	require.Equal(t, model.ResultFailed, failed[0].Result)
	require.Equal(t, "/a.txt", failed[0].Path)
}

func TestDeleteFailureSaysNothingWasTrashed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("Delete", mock.Anything, "/a.txt").
		Return(model.OperationResult{}, fmt.Errorf("%w: file not found: /a.txt", model.ErrNotFound))

	token := tokenRe.FindString(h.send("DELETE /a.txt"))
	reply := h.send(token)
	require.Contains(t, reply, "❌ **Deletion Failed**")
	require.Contains(t, reply, "NOT moved to trash")

	entries := h.entries(model.CommandDeleteConfirmed)
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultFailed, entries[0].Result)
}

func TestInvalidCommandScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)

	reply := h.send("foobar")
	require.Contains(t, reply, "❌ **Invalid Command**")
	require.Contains(t, reply, "Unknown command: foobar...")
	require.Contains(t, reply, "HELP")

	require.Empty(t, h.backend.Calls)

	invalid := h.entries(string(model.IntentInvalid))
	require.Len(t, invalid, 1)
	require.Equal(t, model.ResultFailed, invalid[0].Result)
	require.Len(t, h.entries(model.CommandMessage), 1)
}

func TestHelpListsIntentsAndServices(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RateLimitPerHour: 30}, nil)

	reply := h.send("?")
	for _, want := range []string{"LIST", "ls", "DELETE", "rm", "MOVE", "mv", "SUMMARY", "sum", "HELP", "commands", summarize.BasicServiceName, "30 commands per hour"} {
		require.Contains(t, reply, want)
	}
	require.Empty(t, h.backend.Calls)
}

func TestDuplicateMessageIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	msg := model.InboundMessage{MessageID: "SMdup", SenderID: sender, Body: "HELP"}

	first, handled := h.d.Handle(context.Background(), msg)
	require.True(t, handled)
	require.NotEmpty(t, first)

	second, handled := h.d.Handle(context.Background(), msg)
	require.False(t, handled)
	require.Empty(t, second)

	all, err := h.trail.Query(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRateLimitBlocksBeforeParsing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RateLimitPerHour: 2}, nil)

	h.send("HELP")
	h.send("HELP")
	reply := h.send("LIST /x")

	require.Contains(t, reply, "⚠️ **Rate limit exceeded**")
	require.Contains(t, reply, "You've sent 2 messages")
	require.Contains(t, reply, "Limit: 2 messages per hour")
	require.Empty(t, h.backend.Calls)

	blocked := h.entries(model.CommandRateLimitExceeded)
	require.Len(t, blocked, 1)
	require.Equal(t, model.ResultBlocked, blocked[0].Result)
	require.Len(t, h.entries(model.CommandMessage), 2)

	h.now = h.now.Add(time.Hour)
	require.NotContains(t, h.send("HELP"), "Rate limit exceeded")
}

func TestRateLimitReplyFollowsWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		window time.Duration
		want   string
	}{
		{window: time.Hour, want: "in the last hour"},
		{window: 2 * time.Hour, want: "in the last 2 hours"},
		{window: 15 * time.Minute, want: "in the last 15 minutes"},
		{window: 90 * time.Second, want: "in the last 1m30s"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.window.String(), func(t *testing.T) {
			t.Parallel()

			reply := rateLimitedReply(ratelimit.Decision{Used: 3, Limit: 3}, tt.window)
			require.Contains(t, reply, tt.want)
			require.Contains(t, reply, "Limit: 3 messages per "+windowPhrase(tt.window))
		})
	}

	h := newHarness(t, Config{}, nil)
	h.d.deps.Limiter = ratelimit.New(h.trail, h.trail,
		ratelimit.WithWindow(15*time.Minute),
		ratelimit.WithClock(func() time.Time { return h.now }),
	)
	require.Contains(t, h.send("HELP"), "30 commands per 15 minutes")
}

func TestAuthenticationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.backend.On("Authenticated").Return(false)
	h.backend.On("Authenticate", mock.Anything).Return(fmt.Errorf("%w: root missing", model.ErrAuth)).Once()

	reply := h.send("LIST /Reports")
	require.Contains(t, reply, "❌ **Authentication Failed**")
	h.backend.AssertNotCalled(t, "List", mock.Anything, mock.Anything)

	entries := h.entries("LIST")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultAuthFailed, entries[0].Result)
}

func TestAuthenticationRetriedOnceThenProceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.backend.On("Authenticated").Return(false)
	h.backend.On("Authenticate", mock.Anything).Return(nil).Once()
	h.backend.On("Move", mock.Anything, "/a.txt", "/Archive").Return(model.OperationResult{Message: "moved"}, nil).Once()

	reply := h.send("MOVE /a.txt TO /Archive")
	require.Contains(t, reply, "✅ **File Moved Successfully**")
	require.Contains(t, reply, "To: `/Archive`")

	entries := h.entries("MOVE")
	require.Len(t, entries, 1)
	require.Equal(t, "/Archive", entries[0].DestinationPath)
	h.backend.AssertExpectations(t)
}

func TestMoveFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("Move", mock.Anything, "/a.txt", "/Nowhere").
		Return(model.OperationResult{}, fmt.Errorf("%w: destination folder not found: /Nowhere", model.ErrNotFound))

	reply := h.send("mv /a.txt /Nowhere")
	require.Contains(t, reply, "❌ **Move Failed**")

	entries := h.entries("MOVE")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultFailed, entries[0].Result)
}

func TestCollaboratorTimeoutIsAFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{CollaboratorTimeout: 20 * time.Millisecond}, nil)
	h.authenticated()
	h.backend.On("List", mock.Anything, "/slow").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(model.Listing{}, context.DeadlineExceeded)

	reply := h.send("LIST /slow")
	require.Contains(t, reply, "took too long")

	entries := h.entries("LIST")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultFailed, entries[0].Result)
	require.Equal(t, true, entries[0].Extra["timeout"])
}

type stubSummarizer struct {
	panicOnSummarize bool
	inputs           []model.SummaryInput
}

func (s *stubSummarizer) Summarize(_ context.Context, content string, label string) (model.Summary, error) {
	if s.panicOnSummarize {
		panic("summarizer exploded")
	}
	return model.Summary{Text: "• " + label, Service: "Stub"}, nil
}

func (s *stubSummarizer) SummarizeMany(_ context.Context, inputs []model.SummaryInput) (model.FolderSummary, error) {
	s.inputs = inputs
	return model.FolderSummary{Text: "• folder overview", Service: "Stub"}, nil
}

func (s *stubSummarizer) Services() []string { return []string{"Stub", summarize.BasicServiceName} }

func TestSummarySingleFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("GetContent", mock.Anything, "/Reports/q1.txt").Return(model.FileContent{
		Path: "/Reports/q1.txt", Content: "Revenue grew.\nCosts fell.\nHiring paused.", Type: "text", Size: 40,
	}, nil)

	reply := h.send("SUMMARY /Reports/q1.txt")
	require.Contains(t, reply, "🤖 **AI Summary for /Reports/q1.txt**")
	require.Contains(t, reply, "• Service: "+summarize.BasicServiceName)
	require.Contains(t, reply, "• Content size: 40 characters")

	entries := h.entries("SUMMARY")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultSuccess, entries[0].Result)
	require.Equal(t, summarize.BasicServiceName, entries[0].Extra["service"])
}

type hangingBackend struct{}

func (hangingBackend) Name() string { return "Hanging" }

func (hangingBackend) Complete(ctx context.Context, _ string, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSummaryTimeoutIsAFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{CollaboratorTimeout: 20 * time.Millisecond}, summarize.New(0, nil, hangingBackend{}))
	h.authenticated()
	h.backend.On("GetContent", mock.Anything, "/Reports/q1.txt").Return(model.FileContent{
		Path: "/Reports/q1.txt", Content: "Revenue grew.\nCosts fell.\nHiring paused.", Type: "text", Size: 40,
	}, nil)

	reply := h.send("SUMMARY /Reports/q1.txt")
	require.Contains(t, reply, "❌ **Summarization Failed**")

	entries := h.entries("SUMMARY")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultFailed, entries[0].Result)
	require.Equal(t, true, entries[0].Extra["timeout"])
}

func TestSummaryShortFileFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.authenticated()
	h.backend.On("GetContent", mock.Anything, "/tiny.txt").Return(model.FileContent{Content: "hi", Type: "text", Size: 2}, nil)

	reply := h.send("sum /tiny.txt")
	require.Contains(t, reply, "❌ **Summarization Failed**")
	require.Contains(t, reply, "Content too short")
}

func TestSummaryFolderFetchesFirstFiles(t *testing.T) {
	t.Parallel()

	stub := &stubSummarizer{}
	h := newHarness(t, Config{MaxFilesPerSummary: 5}, stub)
	h.authenticated()

	names := []string{"1.txt", "2.txt", "3.bin", "4.txt", "5.txt", "6.txt", "7.txt"}
	h.backend.On("GetContent", mock.Anything, "/Docs").Return(model.FileContent{}, model.ErrNotAFile)
	h.backend.On("List", mock.Anything, "/Docs").Return(model.Listing{
		Path: "/Docs", Folders: items(model.ItemTypeFolder, "Old"), Files: items(model.ItemTypeFile, names...), TotalCount: 8,
	}, nil)
	for _, n := range names[:5] {
		if n == "3.bin" {
			h.backend.On("GetContent", mock.Anything, "/Docs/"+n).Return(model.FileContent{}, model.ErrUnsupportedContent)
			continue
		}
		h.backend.On("GetContent", mock.Anything, "/Docs/"+n).Return(model.FileContent{Content: "content of " + n, Type: "text"}, nil)
	}

	reply := h.send("SUMMARY /Docs")
	require.Contains(t, reply, "🤖 **AI Folder Summary for /Docs**")
	require.Contains(t, reply, "• Files analyzed: 4")
	require.Contains(t, reply, "• Total files in folder: 7")
	require.Contains(t, reply, "Only first 5 files were analyzed")

	require.Len(t, stub.inputs, 4)
	require.Equal(t, []string{"/Docs/1.txt", "/Docs/2.txt", "/Docs/4.txt", "/Docs/5.txt"},
		[]string{stub.inputs[0].Path, stub.inputs[1].Path, stub.inputs[2].Path, stub.inputs[3].Path})
	h.backend.AssertNotCalled(t, "GetContent", mock.Anything, "/Docs/6.txt")

	entries := h.entries("SUMMARY")
	require.Len(t, entries, 1)
	require.Equal(t, 4, entries[0].Extra["files_analyzed"])
	require.Equal(t, "Stub", entries[0].Extra["service"])
}

func TestSummaryFolderWithoutReadableFiles(t *testing.T) {
	t.Parallel()

	stub := &stubSummarizer{}
	h := newHarness(t, Config{}, stub)
	h.authenticated()
	h.backend.On("GetContent", mock.Anything, "/Pics").Return(model.FileContent{}, model.ErrNotAFile)
	h.backend.On("List", mock.Anything, "/Pics").Return(model.Listing{
		Path: "/Pics", Files: items(model.ItemTypeFile, "a.png"), TotalCount: 1,
	}, nil)
	h.backend.On("GetContent", mock.Anything, "/Pics/a.png").Return(model.FileContent{}, model.ErrUnsupportedContent)

	reply := h.send("SUMMARY /Pics")
	require.Contains(t, reply, "No text files found")
	require.Nil(t, stub.inputs)

	entries := h.entries("SUMMARY")
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultFailed, entries[0].Result)
}

func TestPanicBecomesSystemError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, &stubSummarizer{panicOnSummarize: true})
	h.authenticated()
	h.backend.On("GetContent", mock.Anything, "/a.txt").Return(model.FileContent{Content: "long enough content", Type: "text"}, nil)

	reply := h.send("SUMMARY /a.txt")
	require.Equal(t, replySystemError, reply)

	entries := h.entries(model.CommandError)
	require.Len(t, entries, 1)
	require.Equal(t, model.ResultSystemError, entries[0].Result)
	require.Contains(t, entries[0].ErrorMessage, "summarizer exploded")
}
