// internal/tests/escrow_api_test.go
package tests

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/models"
	"github.com/javajoker/escrowpay/internal/payments"
	"github.com/javajoker/escrowpay/internal/router"
	"github.com/javajoker/escrowpay/internal/services"
	"github.com/javajoker/escrowpay/internal/utils"
)

const (
	testJWTSecret     = "escrow-api-test-secret"
	testWebhookSecret = "whsec_test"
)

type EscrowAPITestSuite struct {
	suite.Suite
	db       *gorm.DB
	cfg      *config.Config
	provider *payments.FakeProvider
	router   *gin.Engine

	buyerID  uuid.UUID
	sellerID uuid.UUID
	adminID  uuid.UUID
}

func (suite *EscrowAPITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret(testJWTSecret)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	suite.Require().NoError(err)
	suite.Require().NoError(db.AutoMigrate(
		&models.EscrowTransaction{},
		&models.EscrowDispute{},
		&models.EscrowNotification{},
	))
	suite.db = db

	suite.cfg = &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: testJWTSecret},
		Payment:     config.PaymentConfig{WebhookSecret: testWebhookSecret},
		Escrow: config.EscrowConfig{
			FeePercent:         10.0,
			MinFee:             100,
			MaxFee:             10000,
			AutoReleaseEnabled: true,
			DisputeWindowDays:  3,
			SweepInterval:      300,
			UnverifiedHoldDays: 14,
			BasicHoldDays:      7,
			VerifiedHoldDays:   3,
			TrustedHoldDays:    0,
		},
	}

	suite.provider = payments.NewFakeProvider()
	clock := escrow.SystemClock{}
	notifier := services.NewNotificationService(db, suite.cfg)
	storage, err := services.NewStorageService(suite.cfg)
	suite.Require().NoError(err)

	escrowService := services.NewEscrowService(db, suite.cfg, suite.provider, clock, notifier)
	disputeService := services.NewDisputeService(db, suite.cfg, suite.provider, clock, storage, notifier)
	sweepService := services.NewSweepService(db, suite.cfg, escrowService, clock)

	suite.router = router.Setup(db, suite.cfg, router.Services{
		Escrow:  escrowService,
		Dispute: disputeService,
		Sweep:   sweepService,
		Storage: storage,
	})

	suite.buyerID = uuid.New()
	suite.sellerID = uuid.New()
	suite.adminID = uuid.New()
}

func (suite *EscrowAPITestSuite) token(userID uuid.UUID, userType string) string {
	claims := utils.JWTClaims{
		UserID:   userID.String(),
		Username: "user-" + userID.String()[:8],
		UserType: userType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	suite.Require().NoError(err)
	return signed
}

func (suite *EscrowAPITestSuite) request(method, path string, body interface{}, userID uuid.UUID, userType string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+suite.token(userID, userType))
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *EscrowAPITestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func (suite *EscrowAPITestSuite) createEscrow() uuid.UUID {
	w := suite.request(http.MethodPost, "/v1/escrows", map[string]interface{}{
		"order_id":        uuid.New().String(),
		"seller_id":       suite.sellerID.String(),
		"item_amount":     10000,
		"shipping_amount": 1000,
		"seller_tier":     "basic",
	}, suite.buyerID, "buyer")
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	data := suite.decode(w)["data"].(map[string]interface{})
	id, err := uuid.Parse(data["id"].(string))
	suite.Require().NoError(err)
	return id
}

func (suite *EscrowAPITestSuite) TestCreateEscrowRequiresAuth() {
	w := suite.request(http.MethodPost, "/v1/escrows", map[string]interface{}{}, uuid.Nil, "")
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *EscrowAPITestSuite) TestCreateEscrowReturnsBreakdown() {
	w := suite.request(http.MethodPost, "/v1/escrows", map[string]interface{}{
		"order_id":        uuid.New().String(),
		"seller_id":       suite.sellerID.String(),
		"item_amount":     10000,
		"shipping_amount": 1000,
		"seller_tier":     "basic",
	}, suite.buyerID, "buyer")
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	response := suite.decode(w)
	assert.True(suite.T(), response["success"].(bool))
	data := response["data"].(map[string]interface{})
	assert.Equal(suite.T(), float64(1000), data["platform_fee"])
	assert.Equal(suite.T(), float64(11000), data["total_amount"])
	assert.Equal(suite.T(), float64(9000), data["seller_payout"])
	assert.Equal(suite.T(), "pending_payment", data["status"])
}

func (suite *EscrowAPITestSuite) TestCreateEscrowValidatesTier() {
	w := suite.request(http.MethodPost, "/v1/escrows", map[string]interface{}{
		"order_id":        uuid.New().String(),
		"seller_id":       suite.sellerID.String(),
		"item_amount":     10000,
		"shipping_amount": 0,
		"seller_tier":     "platinum",
	}, suite.buyerID, "buyer")
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *EscrowAPITestSuite) TestLifecycleOverHTTP() {
	id := suite.createEscrow()
	base := "/v1/escrows/" + id.String()

	w := suite.request(http.MethodPost, base+"/pay", nil, suite.buyerID, "buyer")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	// only the seller may mark shipped
	w = suite.request(http.MethodPost, base+"/ship", map[string]interface{}{
		"tracking_reference": "TRACK-42",
	}, suite.buyerID, "buyer")
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.request(http.MethodPost, base+"/ship", map[string]interface{}{
		"tracking_reference": "TRACK-42",
	}, suite.sellerID, "seller")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.request(http.MethodPost, base+"/confirm-delivery", nil, suite.buyerID, "buyer")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	data := suite.decode(w)["data"].(map[string]interface{})
	assert.Equal(suite.T(), "delivered", data["status"])
	assert.NotNil(suite.T(), data["escrow_expires_at"])

	// release refused while the hold period runs
	w = suite.request(http.MethodPost, base+"/release", nil, suite.buyerID, "buyer")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, w.Code)
	errBody := suite.decode(w)["error"].(map[string]interface{})
	assert.Equal(suite.T(), "NOT_ELIGIBLE", errBody["code"])
	assert.Contains(suite.T(), errBody["message"], "remaining")

	w = suite.request(http.MethodGet, base+"/timeline", nil, suite.buyerID, "buyer")
	suite.Require().Equal(http.StatusOK, w.Code)
	timeline := suite.decode(w)["data"].(map[string]interface{})["timeline"].([]interface{})
	assert.Len(suite.T(), timeline, 5) // created, held, shipped, delivered, escrow_started
}

func (suite *EscrowAPITestSuite) TestGetEscrowHidesOthersTransactions() {
	id := suite.createEscrow()
	path := "/v1/escrows/" + id.String()

	w := suite.request(http.MethodGet, path, nil, suite.buyerID, "buyer")
	assert.Equal(suite.T(), http.StatusOK, w.Code)

	w = suite.request(http.MethodGet, path, nil, uuid.New(), "buyer")
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.request(http.MethodGet, path, nil, suite.adminID, "admin")
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func (suite *EscrowAPITestSuite) TestWebhookSignatureEnforced() {
	id := suite.createEscrow()
	payload, _ := json.Marshal(map[string]interface{}{
		"type":           "payment.succeeded",
		"transaction_id": id.String(),
	})

	// unsigned requests are rejected
	req, _ := http.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)

	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	// a signed event transitions the transaction
	for i := 0; i < 2; i++ { // delivered twice by a retrying provider
		req, _ = http.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set("X-Webhook-Signature", signature)
		w = httptest.NewRecorder()
		suite.router.ServeHTTP(w, req)
		assert.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	}

	assert.Len(suite.T(), suite.provider.CallsFor("charge"), 1)

	var tx models.EscrowTransaction
	suite.Require().NoError(suite.db.First(&tx, "id = ?", id).Error)
	assert.Equal(suite.T(), escrow.StatusPaymentHeld, tx.Status)
}

func (suite *EscrowAPITestSuite) TestDisputeFlowOverHTTP() {
	id := suite.createEscrow()
	base := "/v1/escrows/" + id.String()

	suite.request(http.MethodPost, base+"/pay", nil, suite.buyerID, "buyer")
	suite.request(http.MethodPost, base+"/ship", map[string]interface{}{
		"tracking_reference": "TRACK-7",
	}, suite.sellerID, "seller")
	suite.request(http.MethodPost, base+"/confirm-delivery", nil, suite.buyerID, "buyer")

	w := suite.request(http.MethodPost, base+"/dispute", map[string]interface{}{
		"reason":      "not_as_described",
		"description": "wrong color",
	}, suite.buyerID, "buyer")
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	disputeID := suite.decode(w)["data"].(map[string]interface{})["id"].(string)

	// participants see the dispute, resolution is admin-only
	w = suite.request(http.MethodGet, "/v1/disputes/"+disputeID, nil, suite.sellerID, "seller")
	assert.Equal(suite.T(), http.StatusOK, w.Code)

	w = suite.request(http.MethodPut, "/v1/disputes/"+disputeID+"/resolve", map[string]interface{}{
		"outcome": "favor_buyer",
	}, suite.buyerID, "buyer")
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.request(http.MethodPut, "/v1/disputes/"+disputeID+"/resolve", map[string]interface{}{
		"outcome": "favor_buyer",
		"notes":   "seller at fault",
	}, suite.adminID, "admin")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	data := suite.decode(w)["data"].(map[string]interface{})
	assert.Equal(suite.T(), "refunded", data["status"])

	// a second resolution is refused
	w = suite.request(http.MethodPut, "/v1/disputes/"+disputeID+"/resolve", map[string]interface{}{
		"outcome": "favor_seller",
	}, suite.adminID, "admin")
	assert.Equal(suite.T(), http.StatusConflict, w.Code)
}

func (suite *EscrowAPITestSuite) TestAdminSweepEndpoint() {
	w := suite.request(http.MethodPost, "/v1/admin/sweep", nil, suite.buyerID, "buyer")
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.request(http.MethodPost, "/v1/admin/sweep", nil, suite.adminID, "admin")
	suite.Require().Equal(http.StatusOK, w.Code)
	data := suite.decode(w)["data"].(map[string]interface{})
	assert.Equal(suite.T(), float64(0), data["released"])
}

func (suite *EscrowAPITestSuite) TestHealthEndpoint() {
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func TestEscrowAPITestSuite(t *testing.T) {
	suite.Run(t, new(EscrowAPITestSuite))
}
