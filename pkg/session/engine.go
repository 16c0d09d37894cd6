// Package session implements the Session Protocol Engine: the stateful,
// single-threaded client for the game server's signed request protocol.
// One Engine carries one region's credentials through Unbound, through
// login, to Authenticated, and optionally into a single-use serialized
// resume blob — grounded on the teacher's pkg/connector.AIClient as "one
// object owning one network session, logged with zerolog," generalized
// from bridgev2's NetworkAPI surface to this protocol's handshake and
// signing rules instead.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/cryptoutil"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/memo"
	"github.com/lanternkey/astool/pkg/profile"
)

// Platform is the "p" query parameter identifying the calling client.
type Platform string

const (
	PlatformIOS     Platform = "i"
	PlatformAndroid Platform = "a"
)

// state is the engine's position in Unbound -> Authenticated -> Consumed.
// Resumable isn't a fourth state here: it's the serialized snapshot
// (memo.FastResumeBlob) a Consumed-free Authenticated engine can emit, and
// a fresh engine can hydrate directly into Authenticated from.
type state int

const (
	stateUnbound state = iota
	stateAuthenticated
	stateConsumed
)

// APIReturn is the engine's four-tuple response shape:
// [server_time_ms, master_version, return_code, app_data].
type APIReturn struct {
	ServerTimeMS  int64
	MasterVersion string
	ReturnCode    asterrors.ReturnCode
	AppData       gjson.Result
}

// Engine is not safe for concurrent use: at most one request may be in
// flight at a time, and request-id monotonicity depends on that.
type Engine struct {
	profile     *profile.ServerProfile
	transport   *httpapi.Transport
	logger      zerolog.Logger
	platform    Platform
	nonceSource cryptoutil.NonceSource

	payloadLogging bool

	state state

	bootstrapKey []byte
	sessionKey   []byte

	requestID     int64
	masterVersion string
	userID        int64
	deviceToken   string
	hasTime       bool
	hasSession    bool

	fastResumeInProgress bool

	authCount      int64
	lastAssetState any
}

// New builds an Unbound engine signing with the profile's bootstrap key.
func New(prof *profile.ServerProfile, transport *httpapi.Transport, logger zerolog.Logger, platform Platform, nonceSource cryptoutil.NonceSource, payloadLogging bool) (*Engine, error) {
	bootstrapKey, err := prof.BootstrapKeyBytes()
	if err != nil {
		return nil, err
	}
	if nonceSource == nil {
		nonceSource = cryptoutil.RandomNonceSource
	}
	return &Engine{
		profile:        prof,
		transport:      transport,
		logger:         logger,
		platform:       platform,
		nonceSource:    nonceSource,
		payloadLogging: payloadLogging,
		state:          stateUnbound,
		bootstrapKey:   bootstrapKey,
		sessionKey:     bootstrapKey,
		requestID:      1,
	}, nil
}

// HasSession reports whether the engine currently carries a live session
// (Authenticated, whether freshly logged in or fast-resumed).
func (e *Engine) HasSession() bool { return e.hasSession }

// MasterVersion returns the last master_version observed on this engine.
func (e *Engine) MasterVersion() string { return e.masterVersion }

// AuthCount returns the current auth_count: the value supplied to Login,
// incremented by one on a successful login, or carried over unchanged by
// ResumeSession.
func (e *Engine) AuthCount() int64 { return e.authCount }

func (e *Engine) resetToUnbound() {
	e.requestID = 1
	e.masterVersion = ""
	e.deviceToken = ""
	e.hasSession = false
	e.hasTime = false
	e.sessionKey = e.bootstrapKey
	e.fastResumeInProgress = false
	e.state = stateUnbound
}

// buildQuery assembles p/mv/id/u/t/l in that fixed order and consumes the
// current request_id, advancing it for the next call.
func (e *Engine) buildQuery() string {
	id := e.requestID
	e.requestID++

	parts := []string{"p=" + string(e.platform)}
	if e.masterVersion != "" {
		parts = append(parts, "mv="+e.masterVersion)
	}
	parts = append(parts, fmt.Sprintf("id=%d", id))
	if e.userID != 0 {
		parts = append(parts, fmt.Sprintf("u=%d", e.userID))
	}
	if e.hasTime {
		parts = append(parts, fmt.Sprintf("t=%d", time.Now().UnixMilli()))
	}
	if lang := e.profile.PrimaryLang; lang != "" {
		parts = append(parts, "l="+lang)
	}
	return strings.Join(parts, "&")
}

// sign builds the signed envelope for one request: HMAC over
// "<path>?<query> <payload>", wrapped as `[<payload>,"<hex-hmac>"]`.
func (e *Engine) sign(path, query string, payloadJSON []byte) []byte {
	message := path + "?" + query + " " + string(payloadJSON)
	digest := cryptoutil.HMACSHA1Hex(e.sessionKey, []byte(message))
	var b strings.Builder
	b.WriteByte('[')
	b.Write(payloadJSON)
	b.WriteString(",\"")
	b.WriteString(digest)
	b.WriteString("\"]")
	return []byte(b.String())
}

// signAndPost builds the query, signs payloadJSON with the current
// session key, and POSTs it. The returned status is always populated
// (even on a non-2xx response) so callers can branch on 403 without
// losing the body.
func (e *Engine) signAndPost(ctx context.Context, path string, payloadJSON []byte) ([]byte, int, error) {
	query := e.buildQuery()
	envelope := e.sign(path, query, payloadJSON)
	url := e.profile.APIRoot + path + "?" + query

	if e.payloadLogging {
		e.logger.Debug().Str("path", path).Str("query", query).Str("payload", string(payloadJSON)).Msg("signed request")
	}

	headers := map[string]string{"User-Agent": e.profile.UserAgent}
	data, status, err := e.transport.PostSigned(ctx, url, "application/json", envelope, headers)
	if err != nil {
		var statusErr *httpapi.StatusError
		if errors.As(err, &statusErr) {
			return data, status, nil
		}
		return nil, 0, asterrors.Wrap(asterrors.Transport, err, fmt.Sprintf("POST %s failed", path))
	}
	return data, status, nil
}

// extractResponse parses the four-tuple JSON array. A parse failure (or a
// short array) is tolerated, not raised: it yields a synthetic return with
// ReturnCode -1 so callers surface it as a business failure rather than a
// hard error, per the design's "ReturnCode is surfaced, not raised" split.
func (e *Engine) extractResponse(body []byte) APIReturn {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return APIReturn{ReturnCode: -1}
	}
	arr := parsed.Array()
	if len(arr) < 4 {
		return APIReturn{ReturnCode: -1}
	}
	ar := APIReturn{
		ServerTimeMS:  arr[0].Int(),
		MasterVersion: arr[1].String(),
		ReturnCode:    asterrors.ReturnCode(arr[2].Int()),
		AppData:       arr[3],
	}
	e.hasTime = true
	e.masterVersion = ar.MasterVersion
	return ar
}

// Bootstrap implements login/startup: account creation. Returns the
// recovered authorization_key (base64), which the caller persists in the
// memo. The engine stays Unbound with no session key; as on any request,
// request_id advances and has_time/master_version are taken from the
// response.
func (e *Engine) Bootstrap(ctx context.Context, assetState any) (string, error) {
	if e.state == stateConsumed {
		return "", asterrors.New(asterrors.SessionInvalid, "engine already consumed by save_session")
	}
	nonce, err := e.nonceSource()
	if err != nil {
		return "", asterrors.Wrap(asterrors.Transport, err, "generate nonce")
	}
	pub, err := e.profile.PublicKey()
	if err != nil {
		return "", asterrors.Wrap(asterrors.ConfigNotFound, err, "parse rsa public key")
	}
	ciphertext, err := cryptoutil.RSAOAEPEncrypt(pub, nonce)
	if err != nil {
		return "", asterrors.Wrap(asterrors.Transport, err, "rsa-oaep encrypt nonce")
	}

	payload := map[string]any{
		"mask":                   base64.StdEncoding.EncodeToString(ciphertext),
		"asset_state":            assetState,
		"skip_session_key_check": true,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("session: marshal login/startup payload: %w", err)
	}

	body, status, err := e.signAndPost(ctx, "/login/startup", payloadJSON)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", asterrors.New(asterrors.Transport, fmt.Sprintf("login/startup http %d", status))
	}

	ar := e.extractResponse(body)
	authKeyB64, ok := authorizationKeyView(ar.AppData)
	if !ok {
		return "", asterrors.New(asterrors.ProtocolMalformed, "login/startup response missing authorization_key")
	}
	serverKey, err := base64.StdEncoding.DecodeString(authKeyB64)
	if err != nil {
		return "", asterrors.Wrap(asterrors.ProtocolMalformed, err, "decode authorization_key")
	}
	real := cryptoutil.XORPad(nonce[:], serverKey)
	return base64.StdEncoding.EncodeToString(real), nil
}

// Login implements login/login. If the engine is already Authenticated it
// first resets to Unbound with the same credentials (request_id -> 1,
// master_version/device_token/has_session/has_time cleared).
func (e *Engine) Login(ctx context.Context, userID, authCount int64, assetState any) (APIReturn, error) {
	if e.state == stateConsumed {
		return APIReturn{}, asterrors.New(asterrors.SessionInvalid, "engine already consumed by save_session")
	}
	if e.state == stateAuthenticated {
		e.resetToUnbound()
	}

	e.userID = userID
	e.authCount = authCount
	e.lastAssetState = assetState

	nonce, err := e.nonceSource()
	if err != nil {
		return APIReturn{}, asterrors.Wrap(asterrors.Transport, err, "generate nonce")
	}
	pub, err := e.profile.PublicKey()
	if err != nil {
		return APIReturn{}, asterrors.Wrap(asterrors.ConfigNotFound, err, "parse rsa public key")
	}
	ciphertext, err := cryptoutil.RSAOAEPEncrypt(pub, nonce)
	if err != nil {
		return APIReturn{}, asterrors.Wrap(asterrors.Transport, err, "rsa-oaep encrypt nonce")
	}

	payload := map[string]any{
		"user_id":     userID,
		"auth_count":  authCount,
		"mask":        base64.StdEncoding.EncodeToString(ciphertext),
		"asset_state": assetState,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return APIReturn{}, fmt.Errorf("session: marshal login/login payload: %w", err)
	}

	body, status, err := e.signAndPost(ctx, "/login/login", payloadJSON)
	if err != nil {
		return APIReturn{}, err
	}
	if status < 200 || status >= 300 {
		return APIReturn{}, asterrors.New(asterrors.Transport, fmt.Sprintf("login/login http %d", status))
	}

	ar := e.extractResponse(body)

	// auth_count is incremented after a successful login attempt
	// regardless of the business return code's zero-ness.
	e.authCount = authCount + 1

	sessionKeyB64, ok := sessionKeyView(ar.AppData)
	if !ok {
		return ar, asterrors.New(asterrors.ProtocolMalformed, "login/login response missing session_key")
	}
	serverSessionKey, err := base64.StdEncoding.DecodeString(sessionKeyB64)
	if err != nil || len(serverSessionKey) != 32 {
		return ar, asterrors.Wrap(asterrors.ProtocolMalformed, err, "invalid session_key encoding")
	}

	sessionKey := cryptoutil.XORPad(nonce[:], serverSessionKey)
	mixKeys, err := e.profile.MixKeys()
	if err != nil {
		return ar, asterrors.Wrap(asterrors.ConfigNotFound, err, "load mix keys")
	}
	for _, mixKey := range mixKeys {
		var sessArr [32]byte
		copy(sessArr[:], sessionKey)
		mixed := cryptoutil.XORPad32(sessArr, mixKey)
		sessionKey = mixed[:]
	}
	e.sessionKey = sessionKey

	if dt, ok := deviceTokenView(ar.AppData); ok {
		e.deviceToken = dt
	}

	e.state = stateAuthenticated
	e.hasSession = true
	return ar, nil
}

// relogin re-runs Login with the engine's last-used credentials. If the
// server rejects it, it re-initializes auth_count from the server's
// reported authorization_count and retries exactly once.
func (e *Engine) relogin(ctx context.Context) error {
	ar, err := e.Login(ctx, e.userID, e.authCount, e.lastAssetState)
	if err != nil {
		return err
	}
	if ar.ReturnCode.Zero() {
		return nil
	}
	nextAuthCount := e.authCount
	if serverCount, ok := authorizationCountView(ar.AppData); ok {
		nextAuthCount = serverCount + 1
	}
	ar, err = e.Login(ctx, e.userID, nextAuthCount, e.lastAssetState)
	if err != nil {
		return err
	}
	if !ar.ReturnCode.Zero() {
		return asterrors.New(asterrors.SessionInvalid, "relogin failed twice")
	}
	return nil
}

// reloginAndRetry runs relogin then re-signs and re-issues path/payloadJSON
// with the fresh session key and a freshly assembled query.
func (e *Engine) reloginAndRetry(ctx context.Context, path string, payloadJSON []byte) ([]byte, int, error) {
	if err := e.relogin(ctx); err != nil {
		return nil, 0, asterrors.Wrap(asterrors.SessionInvalid, err, "relogin after 403 failed")
	}
	return e.signAndPost(ctx, path, payloadJSON)
}

// postWithRecovery POSTs path/payloadJSON, retrying once via relogin if
// the first attempt comes back 403 — the recovery path the invariant
// requires for any request on a resumed (i.e. previously authenticated)
// session.
func (e *Engine) postWithRecovery(ctx context.Context, path string, payloadJSON []byte) ([]byte, error) {
	body, status, err := e.signAndPost(ctx, path, payloadJSON)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		body, status, err = e.reloginAndRetry(ctx, path, payloadJSON)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, asterrors.New(asterrors.Transport, fmt.Sprintf("%s http %d", path, status))
	}
	return body, nil
}

// Call implements default_hit_api: sign and POST payload to path. If a
// fast-resume is in progress and skipFastResume is false, the post-call
// master-version drift is logged (not fatal) and the fast-resume flag is
// cleared either way.
func (e *Engine) Call(ctx context.Context, path string, payload any, skipSessionCheck, skipFastResume bool) (APIReturn, error) {
	if e.state == stateConsumed {
		return APIReturn{}, asterrors.New(asterrors.SessionInvalid, "engine already consumed by save_session")
	}
	if !skipSessionCheck && e.state != stateAuthenticated {
		return APIReturn{}, asterrors.New(asterrors.SessionInvalid, "call requires an authenticated session")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return APIReturn{}, fmt.Errorf("session: marshal payload for %s: %w", path, err)
	}

	if e.fastResumeInProgress && !skipFastResume {
		prevMaster := e.masterVersion
		body, err := e.postWithRecovery(ctx, path, payloadJSON)
		e.fastResumeInProgress = false
		if err != nil {
			return APIReturn{}, err
		}
		ar := e.extractResponse(body)
		if prevMaster != "" && ar.MasterVersion != "" && ar.MasterVersion != prevMaster {
			e.logger.Warn().Str("prev_master", prevMaster).Str("new_master", ar.MasterVersion).Msg("master version drifted during fast resume")
		}
		return ar, nil
	}

	body, err := e.postWithRecovery(ctx, path, payloadJSON)
	if err != nil {
		return APIReturn{}, err
	}
	return e.extractResponse(body), nil
}

// GetPackURLs calls asset/getPackUrl once and asserts the returned URL
// list is the same length as packNames, in order.
func (e *Engine) GetPackURLs(ctx context.Context, packNames []string) ([]string, error) {
	ar, err := e.Call(ctx, "/asset/getPackUrl", map[string]any{"pack_names": packNames}, false, false)
	if err != nil {
		return nil, err
	}
	if !ar.ReturnCode.Zero() {
		return nil, asterrors.New(asterrors.SessionInvalid, fmt.Sprintf("asset/getPackUrl returned code %d", ar.ReturnCode))
	}
	urls := urlListView(ar.AppData)
	if len(urls) != len(packNames) {
		return nil, asterrors.New(asterrors.ProtocolMalformed, "asset/getPackUrl: url count does not match pack_names count")
	}
	return urls, nil
}

// ResumeSession hydrates a fresh Engine from a serialized fast-resume
// blob. skipCheck and revalidate are mutually exclusive. With skipCheck it
// returns at once; with revalidate it sends a probe request first; with
// neither it sets the fast-resume flag that the next Call clears.
func (e *Engine) ResumeSession(ctx context.Context, blob *memo.FastResumeBlob, skipCheck, revalidate bool) error {
	if e.state == stateConsumed {
		return asterrors.New(asterrors.SessionInvalid, "engine already consumed by save_session")
	}
	if skipCheck && revalidate {
		return errors.New("session: resume_session: skipCheck and revalidate are mutually exclusive")
	}

	sessionKey, err := base64.StdEncoding.DecodeString(blob.SessionKeyB64)
	if err != nil {
		return asterrors.Wrap(asterrors.ProtocolMalformed, err, "decode resume blob session key")
	}
	e.sessionKey = sessionKey
	e.requestID = blob.LastRequestID
	e.masterVersion = blob.MasterVersion
	e.deviceToken = blob.DeviceToken
	e.hasSession = true
	e.hasTime = true
	e.state = stateAuthenticated

	if skipCheck {
		return nil
	}
	if !revalidate {
		e.fastResumeInProgress = true
		return nil
	}

	prevMaster := e.masterVersion
	payload := map[string]any{
		"bootstrap_fetch_types": []int{2},
		"device_token":          e.deviceToken,
	}
	ar, err := e.Call(ctx, "/bootstrap/fetchBootstrap", payload, false, true)
	if err != nil {
		e.state = stateUnbound
		e.hasSession = false
		return asterrors.Wrap(asterrors.SessionInvalid, err, "resume probe failed")
	}
	if !ar.ReturnCode.Zero() {
		e.state = stateUnbound
		e.hasSession = false
		return asterrors.New(asterrors.SessionInvalid, fmt.Sprintf("resume probe returned code %d", ar.ReturnCode))
	}
	if ar.MasterVersion != "" && ar.MasterVersion != prevMaster {
		e.logger.Warn().Str("prev_master", prevMaster).Str("new_master", ar.MasterVersion).Msg("master version drifted across resume")
	}

	e.fastResumeInProgress = true
	return nil
}

// SaveSession is single-use: it consumes the engine (further calls fail
// with SessionInvalid) and emits the fast-resume blob a new Engine
// instance can hydrate from.
func (e *Engine) SaveSession() (*memo.FastResumeBlob, error) {
	if e.state != stateAuthenticated {
		return nil, asterrors.New(asterrors.SessionInvalid, "save_session requires an authenticated engine")
	}
	blob := &memo.FastResumeBlob{
		SessionKeyB64: base64.StdEncoding.EncodeToString(e.sessionKey),
		LastRequestID: e.requestID,
		MasterVersion: e.masterVersion,
		DeviceToken:   e.deviceToken,
	}
	e.state = stateConsumed
	e.hasSession = false
	return blob, nil
}
