package config

// Contracts 鏈上模組使用的地址與固定 call data，預設值為 0G Galileo 測試網
type Contracts struct {
	ChainID int64 `yaml:"chain_id"`

	// Jaine faucet：對每個代幣合約呼叫 mint()
	JaineTokens  []NamedAddress `yaml:"jaine_tokens"`
	MintSelector string         `yaml:"mint_selector"`

	// TradeGPT
	TradeGPTFaucet        string `yaml:"tradegpt_faucet"`
	RequestTokensSelector string `yaml:"request_tokens_selector"`
	StakingUSDT           string `yaml:"staking_usdt"`
	StakingUSDTDecimals   int    `yaml:"staking_usdt_decimals"`
	TradeGPTStaking       string `yaml:"tradegpt_staking"`
	DepositSelector       string `yaml:"deposit_selector"`

	// Astrostake：stake(address) 隨機選一個合約
	AstrostakeContracts []string `yaml:"astrostake_contracts"`
	StakeSelector       string   `yaml:"stake_selector"`

	// OnchainGM
	OnchainGM      string  `yaml:"onchaingm"`
	OnchainGMData  string  `yaml:"onchaingm_data"`
	OnchainGMValue float64 `yaml:"onchaingm_value"`

	// Morkie：{address} 會被替換為小寫、不含 0x 的錢包地址
	Morkie          string `yaml:"morkie"`
	MorkieClaimData string `yaml:"morkie_claim_data"`
}

// NamedAddress 帶名稱的合約地址
type NamedAddress struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// AddressPlaceholder MorkieClaimData 中的地址佔位符
const AddressPlaceholder = "{address}"

// DefaultContracts 0G Galileo 測試網
func DefaultContracts() Contracts {
	return Contracts{
		ChainID: 16601,
		JaineTokens: []NamedAddress{
			{Name: "ETH", Address: "0x0fE9B43625fA7EdD663aDcEC0728DD635e4AbF7c"},
			{Name: "USDT", Address: "0x3eC8A8705bE1D5ca90066b37ba62c4183B024ebf"},
			{Name: "BTC", Address: "0x36f6414FF1df609214dDAbA71c84f18bcf00F67d"},
		},
		MintSelector:          "0x1249c58b",
		TradeGPTFaucet:        "0x75d4225b61324EA006582456F3871A6c16e99034",
		RequestTokensSelector: "0x359cf2b7",
		StakingUSDT:           "0x217c6f12d186697b16de9e1ae9f85389b93bdb30",
		StakingUSDTDecimals:   18,
		TradeGPTStaking:       "0x3bE9d3C9d313B580d0157Bf0B10fFCB8B92F04D4",
		DepositSelector:       "0xb6b55f25",
		AstrostakeContracts: []string{
			"0x3Ec65770216a325aaB2d2bC33C375b4CA330bDB5",
			"0x2D4C1932155e0e433E6a5A1D84Cf2b38889f407D",
		},
		StakeSelector:   "0x5c19a95c",
		OnchainGM:       "0x84A2dc4fd3EFBbAcCc2f2edfC65F1067545275c8",
		OnchainGMData:   "0x84a3bb6b0000000000000000000000000000000000000000000000000000000000000000",
		OnchainGMValue:  0.00029,
		Morkie:          "0x3597a99af936d4b61E8E6051D11607e60F7BC413",
		MorkieClaimData: "0x84bb1e42000000000000000000000000" + AddressPlaceholder + "0000000000000000000000000000000000000000000000000000000000000001000000000000000000000000eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000c0000000000000000000000000000000000000000000000000000000000000016000000000000000000000000000000000000000000000000000000000000000800000000000000000000000000000000000000000000000000000000000000000ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000",
	}
}
