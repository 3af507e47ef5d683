package paymentprovider

// Запрос на создание PIX-платежа
type CreatePaymentRequest struct {
	TransactionAmount float64         `json:"transaction_amount"`
	Description       string          `json:"description"`
	PaymentMethodID   string          `json:"payment_method_id"`
	Payer             Payer           `json:"payer"`
	ExternalReference string          `json:"external_reference"`
	NotificationURL   string          `json:"notification_url,omitempty"`
	Metadata          PaymentMetadata `json:"metadata"`
}

type Payer struct {
	Email string `json:"email"`
}

// Служебные данные платежа; провайдер возвращает их в вебхуке без изменений
type PaymentMetadata struct {
	BalanceUsed  float64 `json:"balance_used"`
	PlanDuration int     `json:"plan_duration"`
}

// Ответ провайдера при создании платежа
type CreatePaymentResponse struct {
	ID                 int64  `json:"id"`
	Status             string `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`        // строка copia-e-cola
			QRCodeBase64 string `json:"qr_code_base64"` // PNG в base64
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// Платёж, полученный по идентификатору из вебхука
type Payment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"` // "approved" — оплачен
	TransactionAmount float64         `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	Metadata          PaymentMetadata `json:"metadata"`
	DateApproved      string          `json:"date_approved"`
}
