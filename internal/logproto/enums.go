package logproto

// ActivityType classifies a "start" record. Values are pinned to the
// build manager's wire protocol; anything not listed here decodes to
// ActivityUnknown.
type ActivityType uint32

const (
	ActivityUnknown        ActivityType = 0
	ActivityCopyPath       ActivityType = 100
	ActivityFileTransfer   ActivityType = 101
	ActivityRealise        ActivityType = 102
	ActivityCopyPaths      ActivityType = 103
	ActivityBuilds         ActivityType = 104
	ActivityBuild          ActivityType = 105
	ActivityOptimiseStore  ActivityType = 106
	ActivityVerifyPaths    ActivityType = 107
	ActivitySubstitute     ActivityType = 108
	ActivityQueryPathInfo  ActivityType = 109
	ActivityPostBuildHook  ActivityType = 110
	ActivityBuildWaiting   ActivityType = 111
	ActivityFetchTree      ActivityType = 112
)

// ResultType classifies a "result" record.
type ResultType uint32

const (
	ResultFileLinked        ResultType = 100
	ResultBuildLogLine      ResultType = 101
	ResultUntrustedPath     ResultType = 102
	ResultCorruptedPath     ResultType = 103
	ResultSetPhase          ResultType = 104
	ResultProgress          ResultType = 105
	ResultSetExpected       ResultType = 106
	ResultPostBuildLogLine  ResultType = 107
	ResultFetchStatus       ResultType = 108
)

// VerbosityLevel is the level on a "msg" record. Error is the most
// severe (0); Vomit is the least (7).
type VerbosityLevel uint32

const (
	VerbosityError       VerbosityLevel = 0
	VerbosityWarn        VerbosityLevel = 1
	VerbosityNotice      VerbosityLevel = 2
	VerbosityInfo        VerbosityLevel = 3
	VerbosityTalkative   VerbosityLevel = 4
	VerbosityChatty      VerbosityLevel = 5
	VerbosityDebug       VerbosityLevel = 6
	VerbosityVomit       VerbosityLevel = 7
)
