package devtrail

// Version devtrail 当前版本
const Version = "v0.3.0"

// VersionInfo 版本详情
type VersionInfo struct {
	Version   string
	GoVersion string
	GitCommit string
	BuildTime string
}

// 构建时通过 -ldflags "-X" 覆盖
var (
	GitCommit = ""
	BuildTime = ""
)

// GetVersion 返回版本号
func GetVersion() string {
	return Version
}

// GetVersionInfo 返回版本详情
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: "go1.24+",
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
}
