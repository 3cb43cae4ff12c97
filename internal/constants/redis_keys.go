package constants

import "time"

// Redis Key 前缀和格式常量
// 命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "cvingest"

	// CVModulePrefix 简历解析模块
	CVModulePrefix = "cv"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityResult 规范化结果
	EntityResult = "result"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyCVResult 按文件MD5缓存的规范化简历 (STRING, JSON)
	// 格式: cvingest:cv:result:{md5}
	KeyCVResult = AppPrefix + ":" + CVModulePrefix + ":" + EntityResult + ":%s"

	// KeyFileLock 同一文件并发解析时的互斥锁 (STRING)
	// 格式: cvingest:file:lock:{md5}
	KeyFileLock = AppPrefix + ":" + FileModulePrefix + ":" + EntityLock + ":%s"

	// DefaultLockTTL 文件锁的默认持有时间
	DefaultLockTTL = 3 * time.Minute
)
