package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// 各セクションに表示する最大件数
const (
	recentFileLimit    = 5
	upcomingEventLimit = 5
	titleMaxRunes      = 80
)

// Sanitizer はAPIが返す表示用文字列からマークアップを除去する。
type Sanitizer interface {
	Limit(raw string, maxRunes int) string
}

// DriveSummary はGoogle Driveの使用量と最近更新されたファイル。
type DriveSummary struct {
	UsageBytes int64
	LimitBytes int64 // 0は無制限
	Files      []DriveFile
}

// Usage は使用量を人が読める形式で返す。
func (s *DriveSummary) Usage() string {
	if s.LimitBytes <= 0 {
		return FormatBytes(s.UsageBytes)
	}
	return FormatBytes(s.UsageBytes) + " / " + FormatBytes(s.LimitBytes)
}

// DriveFile はDriveのファイル。
type DriveFile struct {
	Name         string
	MimeType     string
	Link         string
	ModifiedTime time.Time
}

// CalendarSummary はprimaryカレンダーの直近の予定。
type CalendarSummary struct {
	Events []CalendarEvent
}

// CalendarEvent はカレンダーの予定。
type CalendarEvent struct {
	Summary string
	Link    string
	Start   time.Time
	AllDay  bool
}

// GmailSummary はGmailのメッセージ数。
type GmailSummary struct {
	MessagesTotal int64
	ThreadsTotal  int64
	UnreadInbox   int64
}

// googleSource はGoogle APIクライアントの生成に共通するオプションを持つ。
type googleSource struct {
	sanitizer Sanitizer
	// opts はテストでエンドポイントを差し替えるために使う
	opts []option.ClientOption
}

func (g googleSource) clientOptions(client *http.Client) []option.ClientOption {
	return append([]option.ClientOption{option.WithHTTPClient(client)}, g.opts...)
}

// DriveSource はDriveの使用量と最近更新されたファイルを取得する。
type DriveSource struct{ googleSource }

// NewDriveSource はDriveSourceを生成する。
func NewDriveSource(sanitizer Sanitizer, opts ...option.ClientOption) *DriveSource {
	return &DriveSource{googleSource{sanitizer: sanitizer, opts: opts}}
}

func (s *DriveSource) Name() string { return "drive" }

func (s *DriveSource) Fetch(ctx context.Context, client *http.Client, d *Dashboard) error {
	srv, err := drive.NewService(ctx, s.clientOptions(client)...)
	if err != nil {
		return fmt.Errorf("failed to create drive client: %w", err)
	}

	about, err := srv.About.Get().Fields("storageQuota").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get drive quota: %w", err)
	}

	list, err := srv.Files.List().
		PageSize(recentFileLimit).
		OrderBy("modifiedTime desc").
		Fields("files(name,mimeType,webViewLink,modifiedTime)").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to list drive files: %w", err)
	}

	summary := &DriveSummary{}
	if about.StorageQuota != nil {
		summary.UsageBytes = about.StorageQuota.Usage
		summary.LimitBytes = about.StorageQuota.Limit
	}
	for _, f := range list.Files {
		modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
		summary.Files = append(summary.Files, DriveFile{
			Name:         s.sanitizer.Limit(f.Name, titleMaxRunes),
			MimeType:     f.MimeType,
			Link:         f.WebViewLink,
			ModifiedTime: modified,
		})
	}

	d.Drive = summary
	return nil
}

// CalendarSource はprimaryカレンダーの今後の予定を取得する。
type CalendarSource struct {
	googleSource
	now func() time.Time
}

// NewCalendarSource はCalendarSourceを生成する。
func NewCalendarSource(sanitizer Sanitizer, opts ...option.ClientOption) *CalendarSource {
	return &CalendarSource{
		googleSource: googleSource{sanitizer: sanitizer, opts: opts},
		now:          time.Now,
	}
}

func (s *CalendarSource) Name() string { return "calendar" }

func (s *CalendarSource) Fetch(ctx context.Context, client *http.Client, d *Dashboard) error {
	srv, err := calendar.NewService(ctx, s.clientOptions(client)...)
	if err != nil {
		return fmt.Errorf("failed to create calendar client: %w", err)
	}

	events, err := srv.Events.List("primary").
		TimeMin(s.now().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(upcomingEventLimit).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to list calendar events: %w", err)
	}

	summary := &CalendarSummary{}
	for _, e := range events.Items {
		ev := CalendarEvent{
			Summary: s.sanitizer.Limit(e.Summary, titleMaxRunes),
			Link:    e.HtmlLink,
		}
		if e.Start != nil {
			if e.Start.DateTime != "" {
				ev.Start, _ = time.Parse(time.RFC3339, e.Start.DateTime)
			} else if e.Start.Date != "" {
				ev.Start, _ = time.Parse(time.DateOnly, e.Start.Date)
				ev.AllDay = true
			}
		}
		summary.Events = append(summary.Events, ev)
	}

	d.Calendar = summary
	return nil
}

// GmailSource はメッセージ総数と受信トレイの未読数を取得する。
type GmailSource struct{ googleSource }

// NewGmailSource はGmailSourceを生成する。
func NewGmailSource(sanitizer Sanitizer, opts ...option.ClientOption) *GmailSource {
	return &GmailSource{googleSource{sanitizer: sanitizer, opts: opts}}
}

func (s *GmailSource) Name() string { return "gmail" }

func (s *GmailSource) Fetch(ctx context.Context, client *http.Client, d *Dashboard) error {
	srv, err := gmail.NewService(ctx, s.clientOptions(client)...)
	if err != nil {
		return fmt.Errorf("failed to create gmail client: %w", err)
	}

	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get gmail profile: %w", err)
	}

	inbox, err := srv.Users.Labels.Get("me", "INBOX").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get gmail inbox label: %w", err)
	}

	d.Gmail = &GmailSummary{
		MessagesTotal: profile.MessagesTotal,
		ThreadsTotal:  profile.ThreadsTotal,
		UnreadInbox:   inbox.MessagesUnread,
	}
	return nil
}

// FormatBytes はバイト数をKB/MB/GB表記にする（1024基準）。
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
