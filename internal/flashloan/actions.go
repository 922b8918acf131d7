package flashloan

import (
	"math/big"

	"FlashRoute/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// 操作构造器：纯函数，产出主资金池批量执行器消费的原语操作。
// 永远以编排器自身账户（账户下标 0）与自身地址作为对手方，金额一律为 delta。

func withdrawAction(marketID, amount *big.Int, self common.Address) pool.Operation {
	return pool.Operation{
		Kind:         pool.KindWithdraw,
		AccountIndex: 0,
		Amount: pool.AssetAmount{
			Sign:         false,
			Denomination: pool.DenomRaw,
			Ref:          pool.RefDelta,
			Value:        new(big.Int).Set(amount),
		},
		MarketID:     new(big.Int).Set(marketID),
		Counterparty: self,
	}
}

func depositAction(marketID, amount *big.Int, self common.Address) pool.Operation {
	return pool.Operation{
		Kind:         pool.KindDeposit,
		AccountIndex: 0,
		Amount: pool.AssetAmount{
			Sign:         true,
			Denomination: pool.DenomRaw,
			Ref:          pool.RefDelta,
			Value:        new(big.Int).Set(amount),
		},
		MarketID:     new(big.Int).Set(marketID),
		Counterparty: self,
	}
}

func callAction(data []byte, self common.Address) pool.Operation {
	return pool.Operation{
		Kind:         pool.KindCall,
		AccountIndex: 0,
		Amount: pool.AssetAmount{
			Sign:         false,
			Denomination: pool.DenomRaw,
			Ref:          pool.RefDelta,
			Value:        new(big.Int),
		},
		MarketID:     new(big.Int),
		Counterparty: self,
		Data:         data,
	}
}
