// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为执行器、检索与 HTTP 层的 span 提供全局 TracerProvider 和 MeterProvider。
// 遥测禁用时只安装 W3C 传播器，不连接任何外部服务。
package telemetry
