// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MaxAvatarSize はアバター画像として受け付ける最大バイト数。
const MaxAvatarSize = 1 << 20

// ErrAvatarRejected はURLまたはレスポンスがアバターとして受け付けられない場合のエラー。
var ErrAvatarRejected = errors.New("avatar rejected")

// allowedImageTypes はプロキシを許可する画像のContent-Type。
var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// blockedNetworks はURLの事前検証でブロックするネットワーク範囲。
// 接続時のIP検証はsafeurlのDialerが行う。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// Avatar はプロキシ取得したアバター画像。
type Avatar struct {
	ContentType string
	Body        []byte
}

// AvatarFetcher はIdPが返したアバターURLから画像をSSRF対策付きで取得する。
// ブラウザに外部URLを直接読ませないため、/avatarエンドポイント経由で配信する。
type AvatarFetcher struct {
	client       *http.Client
	allowedHosts []string
	// validate はテストでループバックのhttptestサーバーを許可するために差し替える
	validate func(rawURL string) error
}

// NewAvatarFetcher はAvatarFetcherを生成する。
// allowedHostsはホスト名のサフィックス（例: "githubusercontent.com"）。
// 空の場合は公開アドレスであれば任意のホストを許可する。
func NewAvatarFetcher(timeout time.Duration, allowedHosts []string) *AvatarFetcher {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	f := &AvatarFetcher{
		client:       safeurl.Client(config).Client,
		allowedHosts: allowedHosts,
	}
	f.validate = f.ValidateURL
	return f
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// httpsのみ許可し、IPリテラル、localhost、許可リスト外のホストを拒否する。
func (f *AvatarFetcher) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrAvatarRejected, err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: disallowed scheme %q", ErrAvatarRejected, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrAvatarRejected)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: blocked host %s", ErrAvatarRejected, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: blocked IP %s", ErrAvatarRejected, ip)
			}
		}
	}

	if len(f.allowedHosts) == 0 {
		return nil
	}
	for _, suffix := range f.allowedHosts {
		suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %s is not allowed", ErrAvatarRejected, host)
}

// Fetch はアバター画像を取得する。
// 画像以外のContent-TypeやMaxAvatarSizeを超えるレスポンスはErrAvatarRejectedを返す。
func (f *AvatarFetcher) Fetch(ctx context.Context, rawURL string) (*Avatar, error) {
	if err := f.validate(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create avatar request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar returned status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]))
	if !allowedImageTypes[contentType] {
		return nil, fmt.Errorf("%w: content type %q", ErrAvatarRejected, contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxAvatarSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar: %w", err)
	}
	if len(body) > MaxAvatarSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrAvatarRejected, MaxAvatarSize)
	}

	return &Avatar{ContentType: contentType, Body: body}, nil
}
