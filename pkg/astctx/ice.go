package astctx

import (
	"context"
	"fmt"
	"time"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/cryptoutil"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/session"
)

const requestTimeout = 30 * time.Second

// GetIceAPI materializes a session engine for region, attempting fast
// resume from the memo's resume blob first unless reauth is set. It
// requires the memo to already carry a full credential triple: account
// creation (session.Engine.Bootstrap) is a distinct, explicit operation —
// see CreateAccount — not something GetIceAPI performs implicitly.
//
// The returned bool reports whether a fresh login was performed (as
// opposed to a successful fast resume), which ReleaseIceAPI needs to know
// whether auth_count moved.
func (c *Context) GetIceAPI(ctx context.Context, region, bundle string, platform session.Platform, reauth bool) (*session.Engine, bool, error) {
	prof, err := c.Resolve(region, bundle)
	if err != nil {
		return nil, false, err
	}

	handle, err := c.EnterMemo(region, true)
	if err != nil {
		return nil, false, err
	}
	m := handle.Get()
	handle.Discard()

	transport := httpapi.New(requestTimeout)
	engine, err := session.New(prof, transport, c.logger, platform, cryptoutil.RandomNonceSource, c.env.LogPayloads)
	if err != nil {
		return nil, false, err
	}

	if !reauth && m.ResumeBlob != nil {
		skipCheck := !c.env.LiveProbe
		revalidate := c.env.LiveProbe
		if err := engine.ResumeSession(ctx, m.ResumeBlob, skipCheck, revalidate); err == nil {
			return engine, false, nil
		}
		c.logger.Warn().Str("region", region).Msg("fast resume failed, falling back to full login")
	}

	if !m.HasCredentials() {
		return nil, false, asterrors.New(asterrors.NoCredentials, fmt.Sprintf("memo for region %q has no account credentials", region))
	}

	ar, err := engine.Login(ctx, m.UserID, m.AuthCount, nil)
	if err != nil {
		return nil, false, err
	}
	if !ar.ReturnCode.Zero() {
		return nil, false, asterrors.New(asterrors.SessionInvalid, fmt.Sprintf("login/login returned code %d", ar.ReturnCode))
	}
	return engine, true, nil
}

// ReleaseIceAPI writes engine's master_version back to the memo, bumps
// auth_count if freshLogin performed a real login/login call, and — if
// saveSession is requested — persists a fresh fast-resume blob. engine
// must not be used again afterward if saveSession succeeded, per the SPE's
// single-use save_session invariant.
func (c *Context) ReleaseIceAPI(region string, engine *session.Engine, freshLogin, saveSession bool) error {
	handle, err := c.EnterMemo(region, false)
	if err != nil {
		return err
	}
	defer handle.Discard()

	m := handle.Get()
	m.LastMasterVersion = engine.MasterVersion()
	if freshLogin {
		m.AuthCount = engine.AuthCount()
	}
	if saveSession {
		blob, err := engine.SaveSession()
		if err != nil {
			c.logger.Warn().Err(err).Str("region", region).Msg("could not save fast-resume session")
		} else {
			m.ResumeBlob = blob
		}
	}
	handle.Set(m)
	return handle.Commit()
}

// CreateAccount runs login/startup to recover a fresh authorization_key
// for a brand-new account and writes {userID, authorization_key, auth_count:
// 1} into the region's memo. Assigning userID itself is out of scope here
// (spec.md Non-goals: account-creation specifics beyond minting a session)
// — the caller supplies it.
func (c *Context) CreateAccount(ctx context.Context, region, bundle string, platform session.Platform, userID int64) (string, error) {
	prof, err := c.Resolve(region, bundle)
	if err != nil {
		return "", err
	}

	transport := httpapi.New(requestTimeout)
	engine, err := session.New(prof, transport, c.logger, platform, cryptoutil.RandomNonceSource, c.env.LogPayloads)
	if err != nil {
		return "", err
	}

	authKeyB64, err := engine.Bootstrap(ctx, nil)
	if err != nil {
		return "", err
	}

	handle, err := c.EnterMemo(region, false)
	if err != nil {
		return "", err
	}
	defer handle.Discard()

	m := handle.Get()
	m.UserID = userID
	m.AuthorizationKeyB64 = authKeyB64
	m.AuthCount = 1
	handle.Set(m)
	if err := handle.Commit(); err != nil {
		return "", err
	}
	return authKeyB64, nil
}
