package nft

// Unavailable is the Engine used when no backend can be driven. Mutations
// succeed without effect and queries return fixed sentinels, so callers
// never branch on tool availability.
type Unavailable struct{}

var _ Engine = Unavailable{}

func (Unavailable) EnsureTableChainSet(int) error { return nil }

func (Unavailable) FlushSet() error { return nil }

func (Unavailable) AddElements([]string) error { return nil }

func (Unavailable) AddAcceptRule(int, string, string) error { return nil }

func (Unavailable) AddDropCIDRRule(int, string, string) error { return nil }

func (Unavailable) AddBlockRule(int, string) error { return nil }

func (Unavailable) AddBlockNonChinaRule(int, string) error { return nil }

func (Unavailable) ListChain() ([]ListedRule, error) { return nil, nil }

func (Unavailable) DeleteRule(int, string, string) (int, error) { return 0, nil }

func (Unavailable) CountSetElements() int { return 0 }

func (Unavailable) FlushPolicyChain() error { return nil }

func (Unavailable) DeleteTable() error { return nil }

func (Unavailable) ListOurs() string { return NotInstalledMessage }
