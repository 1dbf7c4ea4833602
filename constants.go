package nntpclient

// NNTP status codes consumed by this client (RFC 3977), grouped by the
// command family that produces them.
const (
	codeWelcomeNoPosting = 200
	codeWelcomePosting   = 201

	codeAuthAccepted     = 281
	codeAuthNeedPassword = 381
	codeAuthRejected     = 482

	codeCapabilities = 101
	codeHelp         = 100
	codeDate         = 111

	codeGroupSelected   = 211
	codeGroupNoSuch     = 411
	codeListGroupNoSuch = 412

	codeArticleFollows  = 220
	codeArticleNoSuch   = 430
	codeArticleBadRange = 423

	codeHeadFollows = 221
	codeBodyFollows = 222
	codeStatFound   = 223

	codeNoArticleSelected     = 420
	codeNoPrevNextArticle     = 421
	codeNoNextArticleSameSize = 422

	codeOverviewFollows = 224
	codeHdrFollows      = 225

	codeListFollows      = 215
	codeNewGroupsFollows = 231
	codeNewNewsFollows   = 230

	codePostSendBody  = 340
	codePostOK        = 240
	codePostRejected  = 441
	codeIhaveSendBody = 335
	codeIhaveOK       = 235
	codeIhaveNotWant  = 436
	codeIhaveReject   = 437

	codeQuit = 205
)
