package echoapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/trezcool/rollbook/apps/api/echo"
	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
	appfs "github.com/trezcool/rollbook/fs"
	"github.com/trezcool/rollbook/services/email"
	"github.com/trezcool/rollbook/services/logger"
	"github.com/trezcool/rollbook/storage/database/inmem"
	"github.com/trezcool/rollbook/testutil"
)

const testPassword = "Pa$$w0rd!"

// testEnv is a server over a fresh in-memory store.
type testEnv struct {
	conf          *core.Config
	app           *Server
	usrRepo       user.Repository
	schoolRepo    school.Repository
	progressRepo  progress.Repository
	attendanceSvc *attendance.Service
	mailSvc       *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T, configure ...func(conf *core.Config)) *testEnv {
	t.Helper()

	conf := testutil.NewConfig()
	conf.Debug = false
	conf.CheckIn.TrustedNetworks = core.ParseNetworks("192.168.1.0/24")
	for _, fn := range configure {
		fn(conf)
	}

	stdLogger := log.New(io.Discard, "", 0)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(false)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)

	db, err := inmemdb.Open()
	require.NoError(t, err)

	env := &testEnv{
		conf:         conf,
		usrRepo:      inmemdb.NewUserRepository(db),
		schoolRepo:   inmemdb.NewSchoolRepository(db),
		progressRepo: inmemdb.NewProgressRepository(db),
		mailSvc:      emailsvc.NewConsoleServiceMock(conf, logger),
	}
	attendanceRepo := inmemdb.NewAttendanceRepository(db)

	validate, translator := testutil.NewValidator()
	schoolSvc := school.NewService(env.schoolRepo, validate)
	env.attendanceSvc = attendance.NewService(attendanceRepo, conf)

	env.app, err = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        user.NewService(env.usrRepo, env.mailSvc, conf),
		SchoolSvc:      schoolSvc,
		ProgressSvc:    progress.NewService(env.progressRepo, env.schoolRepo, validate, translator),
		AttendanceSvc:  env.attendanceSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
		DisableCSRF:    true,
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) createUser(t *testing.T, name, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, env.usrRepo, name, uname, uname+"@test.in", testPassword, roles, true)
}

// createStaff creates a staff account: a User and its Staff profile.
func (env *testEnv) createStaff(t *testing.T, name, uname string) (user.User, school.Staff) {
	usr := env.createUser(t, name, uname, user.RoleStaff)
	return usr, testutil.CreateStaff(t, env.schoolRepo, usr.ID, name, uname+"@staff.test.in")
}

type httpTest struct {
	name     string
	method   string
	path     string
	form     url.Values
	usr      *user.User
	wantCode int
	wantData []byte
	wantLoc  string
	extra    interface{}
}

func (env *testEnv) sessionCookie(t *testing.T, usr user.User) *http.Cookie {
	token, err := GenerateToken(GetUserClaims(usr, env.conf), env.conf.SecretKey)
	if err != nil {
		t.Fatalf("sessionCookie(): %v", err)
	}
	return &http.Cookie{Name: env.conf.Server.SessionCookieName, Value: token}
}

func (env *testEnv) newRequest(t *testing.T, method, path string, usr *user.User, form url.Values) *http.Request {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if usr != nil {
		req.AddCookie(env.sessionCookie(t, *usr))
	}
	return req
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.app.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) do(t *testing.T, method, path string, usr *user.User, form url.Values) *httptest.ResponseRecorder {
	return env.serve(env.newRequest(t, method, path, usr, form))
}

func (env *testEnv) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	rec := env.do(t, method, tt.path, tt.usr, tt.form)
	checkCode(t, tt, rec)
	return rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCode(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantLoc != "" {
		if loc := rec.Header().Get("Location"); loc != tt.wantLoc {
			t.Errorf("failed! location = %q; wantLoc %q", loc, tt.wantLoc)
		}
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	checkCode(t, tt, rec)
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// checkIn posts a check-in as usr from remoteAddr and returns the recorded row.
func (env *testEnv) checkIn(t *testing.T, usr user.User, remoteAddr string, headers map[string]string) attendance.CheckIn {
	t.Helper()
	req := env.newRequest(t, http.MethodPost, "/checkin", &usr, url.Values{})
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := env.serve(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rows, err := env.attendanceSvc.QueryCheckIns(context.Background(), attendance.Query{})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	var latest attendance.CheckIn
	for _, c := range rows {
		if c.ID > latest.ID {
			latest = c
		}
	}
	return latest
}
