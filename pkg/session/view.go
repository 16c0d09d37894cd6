package session

import "github.com/tidwall/gjson"

// The core only ever inspects a handful of paths inside an otherwise
// untyped app_data tree. These are narrow accessors over the already-
// parsed app_data node (APIReturn.AppData), not a full struct unmarshal —
// the same ad-hoc-JSON-view shape the teacher's connector package uses for
// provider response trees via tidwall/gjson.

func authorizationKeyView(appData gjson.Result) (string, bool) {
	v := appData.Get("authorization_key")
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

func sessionKeyView(appData gjson.Result) (string, bool) {
	v := appData.Get("session_key")
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

func deviceTokenView(appData gjson.Result) (string, bool) {
	v := appData.Get("user_model.user_status.device_token")
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

func authorizationCountView(appData gjson.Result) (int64, bool) {
	v := appData.Get("authorization_count")
	if !v.Exists() {
		return 0, false
	}
	return v.Int(), true
}

func urlListView(appData gjson.Result) []string {
	v := appData.Get("url_list")
	if !v.Exists() || !v.IsArray() {
		return nil
	}
	arr := v.Array()
	out := make([]string, len(arr))
	for i, e := range arr {
		out[i] = e.String()
	}
	return out
}
