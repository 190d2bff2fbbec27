package tools

import (
	"encoding/base64"
	"net/http"
)

// authHeaders 根据认证配置生成请求头
func authHeaders(a Auth) http.Header {
	h := http.Header{}
	switch a.Type {
	case AuthBearer:
		if a.Token != "" {
			h.Set("Authorization", "Bearer "+a.Token)
		}
	case AuthAPIKey:
		name := a.Header
		if name == "" {
			name = DefaultAPIKeyHeader
		}
		h.Set(name, a.APIKey)
	case AuthBasic:
		cred := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		h.Set("Authorization", "Basic "+cred)
	}
	return h
}

func applyAuth(req *http.Request, a Auth) {
	for k, vs := range authHeaders(a) {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
}
