// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 HTTP/HTTPS 监听的生命周期：非阻塞启动、异步错误传播
与带超时的优雅关闭。

knowflow serve 为 API 与 /metrics 各创建一个 Manager。信号处理由
调用方通过 context 完成，Wait 在 context 结束或服务异常退出时关闭监听。
配置了证书时使用 tlsutil.ServerTLSConfig 的加固设置启动 HTTPS。
*/
package server
