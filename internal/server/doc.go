// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，CLI 用它在工作流运行期间
暴露 Prometheus /metrics 抓取端点。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start / Shutdown / ListenAddr / Errors 等方法。
  - Config：监听地址、读取请求头超时与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空，可重复调用。
  - 随机端口：Addr 为 ":0" 时可通过 ListenAddr 获取实际地址。
*/
package server
