// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的连接池管理，供 internal/persistence 使用。

# 核心类型

  - PoolManager：持有 gorm 实例与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 以及事务方法。Close 之后所有操作返回 ErrPoolClosed。
  - PoolConfig：连接数上限、连接生命周期、探活间隔与事务重试参数。
  - PoolStats：连接池统计快照。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 在 IsRetryableError
判定的瞬时错误（死锁、序列化失败、SQLITE_BUSY、断连）上按 TxBackoff
指数退避重跑整个事务，最多 TxMaxAttempts 次。
*/
package database
