// Package tlsutil 提供集中式 TLS 配置：出站 HTTP 客户端与 HTTPS 监听共用同一套加固设置。
package tlsutil
