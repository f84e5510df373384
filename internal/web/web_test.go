package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

var testTokens = auth.Tokens{Secret: "test-secret"}

var csrfInput = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

// portal is a browser-like client: it keeps cookies, does not follow
// redirects and remembers the last CSRF token it saw.
type portal struct {
	t      *testing.T
	server *httptest.Server
	db     *sql.DB
	client *http.Client
	csrf   string
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	database := db.NewTestDB(t)
	svc := circulation.NewService(database, store.StudentDirectory{DB: database})

	handler, err := NewRouter(database, testTokens, svc, Options{CSRFKey: bytes.Repeat([]byte{7}, 32)})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &portal{t: t, server: server, db: database, client: client}
}

func (p *portal) createUser(username, role string) {
	p.t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if _, err := store.CreateUser(context.Background(), p.db, username, string(hash), role); err != nil {
		p.t.Fatalf("CreateUser: %v", err)
	}
}

// get fetches a page and picks up its CSRF token.
func (p *portal) get(path string) (int, string) {
	p.t.Helper()
	resp, err := p.client.Get(p.server.URL + path)
	if err != nil {
		p.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if m := csrfInput.FindSubmatch(body); m != nil {
		p.csrf = string(m[1])
	}
	return resp.StatusCode, string(body)
}

// post submits a form with the current CSRF token and returns the status
// and the redirect target, if any.
func (p *portal) post(path string, form url.Values) (int, string) {
	p.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if p.csrf != "" && form.Get("csrf_token") == "" {
		form.Set("csrf_token", p.csrf)
	}
	resp, err := p.client.PostForm(p.server.URL+path, form)
	if err != nil {
		p.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, resp.Header.Get("Location")
}

func (p *portal) login(username string) {
	p.t.Helper()
	p.get("/login")
	status, location := p.post("/login", url.Values{"username": {username}, "password": {"password"}})
	if status != http.StatusSeeOther || location != "/" {
		p.t.Fatalf("login %s: status %d, location %q", username, status, location)
	}
	// Refresh the token from an authenticated page.
	p.get("/")
}

func (p *portal) seed() (*model.Book, *model.Student) {
	p.t.Helper()
	ctx := context.Background()
	book, err := store.CreateBook(ctx, p.db, &model.Book{
		ISBN: "9789610112345", Title: "Martin Krpan", Author: "Fran Levstik", Category: "slovenska klasika", Quantity: 1,
	})
	if err != nil {
		p.t.Fatalf("CreateBook: %v", err)
	}
	student, err := store.CreateStudent(ctx, p.db, &model.Student{
		ExternalID: "S1001", FirstName: "Ana", LastName: "Novak", Grade: "7.a",
	})
	if err != nil {
		p.t.Fatalf("CreateStudent: %v", err)
	}
	return book, student
}

func (p *portal) available(id int64) int {
	p.t.Helper()
	b, err := store.GetBook(context.Background(), p.db, id)
	if err != nil || b == nil {
		p.t.Fatalf("GetBook: %v", err)
	}
	return b.Available
}

func TestUnauthenticatedRedirect(t *testing.T) {
	p := newPortal(t)

	for _, path := range []string{"/", "/books", "/circulation", "/users"} {
		resp, err := p.client.Get(p.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
			t.Errorf("%s: expected redirect to /login, got %d %q", path, resp.StatusCode, resp.Header.Get("Location"))
		}
	}
}

func TestLoginWrongPassword(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)

	p.get("/login")
	form := url.Values{"username": {"admin"}, "password": {"wrong"}, "csrf_token": {p.csrf}}
	resp, err := p.client.PostForm(p.server.URL+"/login", form)
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Napačno uporabniško ime ali geslo") {
		t.Error("expected error message in login page")
	}
}

func TestPostWithoutCSRFToken(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")
	book, student := p.seed()

	form := url.Values{
		"book_id":    {fmt.Sprint(book.ID)},
		"patron_id":  {student.ExternalID},
		"csrf_token": {"forged"},
	}
	status, location := p.post("/circulation/checkout", form)
	if status != http.StatusSeeOther || !strings.HasPrefix(location, "/?err=") {
		t.Errorf("expected redirect with error, got %d %q", status, location)
	}
	if got := p.available(book.ID); got != 1 {
		t.Errorf("checkout must not run without a valid token, available = %d", got)
	}
}

func TestCSRFFailureRedirectStaysLocal(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")

	host := strings.TrimPrefix(p.server.URL, "http://")
	tests := []struct {
		referer string
		want    string
	}{
		{"", "/"},
		{p.server.URL + "/books/1", "/books/1"},
		{"https://evil.example/books", "/"},
		{"https://evil.example//evil.example/phish", "/"},
		{"http://" + host + "//evil.example/phish", "/"},
		{"http://" + host + "/\\evil.example", "/"},
		{"/circulation", "/circulation"},
	}
	for _, tt := range tests {
		form := url.Values{"csrf_token": {"forged"}}
		req, _ := http.NewRequest("POST", p.server.URL+"/circulation/checkout", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if tt.referer != "" {
			req.Header.Set("Referer", tt.referer)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			t.Fatalf("POST with Referer %q: %v", tt.referer, err)
		}
		resp.Body.Close()

		location := resp.Header.Get("Location")
		if resp.StatusCode != http.StatusSeeOther || !strings.HasPrefix(location, tt.want+"?err=") {
			t.Errorf("Referer %q: got %d %q, want redirect to %q", tt.referer, resp.StatusCode, location, tt.want)
		}
	}
}

func TestCategoryConcurrentRender(t *testing.T) {
	category := FuncMap()["category"].(func(string) string)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if got := category("slovenska klasika"); got != "Slovenska Klasika" {
					t.Errorf("category = %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPagesRender(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")
	book, student := p.seed()

	p.post("/circulation/checkout", url.Values{"book_id": {fmt.Sprint(book.ID)}, "patron_id": {student.ExternalID}})

	pages := map[string]string{
		"/":                               "Zadnje izposoje",
		"/books":                          "Martin Krpan",
		"/books?q=levstik&available=1":    "Ni zadetkov",
		"/books/new":                      "Nova knjiga",
		fmt.Sprintf("/books/%d", book.ID): "Fran Levstik",
		"/circulation?q=novak":            "S1001",
		"/loans":                          "Martin Krpan",
		"/loans?status=overdue":           "Ni izposoj",
		"/reports":                        "Slovenska Klasika",
		"/students":                       "Novak Ana",
		"/students/" + student.ExternalID: "Martin Krpan",
		"/users":                          "admin",
		"/settings":                       "Sprememba gesla",
	}
	for path, want := range pages {
		status, body := p.get(path)
		if status != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, status)
			continue
		}
		if !strings.Contains(body, want) {
			t.Errorf("%s: expected page to contain %q", path, want)
		}
	}
}

func TestCheckoutCheckinFlow(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")
	book, student := p.seed()

	status, location := p.post("/circulation/checkout", url.Values{
		"book_id":   {fmt.Sprint(book.ID)},
		"patron_id": {student.ExternalID},
	})
	if status != http.StatusSeeOther || !strings.HasPrefix(location, "/circulation?msg=") {
		t.Fatalf("checkout: %d %q", status, location)
	}
	if got := p.available(book.ID); got != 0 {
		t.Errorf("expected 0 available after checkout, got %d", got)
	}

	// Only copy is out.
	_, location = p.post("/circulation/checkout", url.Values{
		"book_id":   {fmt.Sprint(book.ID)},
		"patron_id": {student.ExternalID},
	})
	if !strings.HasPrefix(location, "/circulation?err=") {
		t.Errorf("expected error redirect, got %q", location)
	}

	_, location = p.post("/circulation/checkin", url.Values{"token": {book.ISBN}})
	if !strings.HasPrefix(location, "/circulation?msg=") {
		t.Fatalf("checkin: %q", location)
	}
	if got := p.available(book.ID); got != 1 {
		t.Errorf("expected 1 available after checkin, got %d", got)
	}

	_, location = p.post("/circulation/checkin", url.Values{"token": {book.ISBN}})
	want := "/circulation?err=" + url.QueryEscape(circulationMessages["no_active_loan"])
	if location != want {
		t.Errorf("expected %q, got %q", want, location)
	}

	loans, _ := store.ListLoans(context.Background(), p.db, model.LoanFilter{}, timeNow())
	if len(loans) != 1 || loans[0].LibrarianName != "admin" {
		t.Errorf("expected one loan issued by admin, got %+v", loans)
	}
}

func TestCirculationPatronList(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")
	book, student := p.seed()

	_, body := p.get("/circulation")
	if strings.Contains(body, `data-patron="`+student.ExternalID+`"`) {
		t.Error("student is not a patron before the first checkout")
	}

	p.post("/circulation/checkout", url.Values{
		"book_id":   {fmt.Sprint(book.ID)},
		"patron_id": {student.ExternalID},
	})

	_, body = p.get("/circulation")
	for _, want := range []string{
		`<option value="` + student.ExternalID + `">Novak Ana</option>`,
		`data-patron="` + student.ExternalID + `"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("circulation page missing %q", want)
		}
	}
}

func TestCheckoutUnknownStudent(t *testing.T) {
	p := newPortal(t)
	p.createUser("assistant", model.RoleAssistant)
	p.login("assistant")
	book, _ := p.seed()

	_, location := p.post("/circulation/checkout", url.Values{
		"book_id":   {fmt.Sprint(book.ID)},
		"patron_id": {"S404"},
	})
	want := "/circulation?err=" + url.QueryEscape(circulationMessages["patron_resolution"])
	if location != want {
		t.Errorf("expected %q, got %q", want, location)
	}
	if got := p.available(book.ID); got != 1 {
		t.Errorf("failed checkout must not take a copy, available = %d", got)
	}
}

func TestBookCreate(t *testing.T) {
	p := newPortal(t)
	p.createUser("librarian", model.RoleLibrarian)
	p.login("librarian")

	status, _ := p.post("/books", url.Values{"isbn": {"123"}, "author": {"Ivan Cankar"}})
	if status != http.StatusBadRequest {
		t.Errorf("missing title: expected 400, got %d", status)
	}

	form := url.Values{
		"isbn":     {"9789610100001"},
		"title":    {"Na klancu"},
		"author":   {"Ivan Cankar"},
		"category": {"roman"},
		"quantity": {"3"},
	}
	status, location := p.post("/books", form)
	if status != http.StatusSeeOther || !strings.HasPrefix(location, "/books/") {
		t.Fatalf("create: %d %q", status, location)
	}

	status, _ = p.post("/books", form)
	if status != http.StatusConflict {
		t.Errorf("duplicate ISBN: expected 409, got %d", status)
	}

	book, _ := store.GetBookByISBN(context.Background(), p.db, "9789610100001")
	if book == nil || book.Quantity != 3 || book.Available != 3 {
		t.Fatalf("unexpected book %+v", book)
	}

	form.Set("quantity", "1")
	form.Set("title", "Na klancu (ponatis)")
	_, location = p.post(fmt.Sprintf("/books/%d", book.ID), form)
	if !strings.Contains(location, "msg=") {
		t.Errorf("update: %q", location)
	}

	_, location = p.post(fmt.Sprintf("/books/%d/delete", book.ID), nil)
	if !strings.HasPrefix(location, "/books?msg=") {
		t.Errorf("delete: %q", location)
	}
	status, _ = p.get(fmt.Sprintf("/books/%d", book.ID))
	if status != http.StatusNotFound {
		t.Errorf("deleted book: expected 404, got %d", status)
	}
}

func TestBookCoverUpload(t *testing.T) {
	p := newPortal(t)
	p.createUser("librarian", model.RoleLibrarian)
	p.login("librarian")
	book, _ := p.seed()

	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for x := 0; x < 40; x++ {
		for y := 0; y < 60; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var pngData bytes.Buffer
	png.Encode(&pngData, img)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("csrf_token", p.csrf)
	fw, _ := mw.CreateFormFile("cover", "cover.png")
	fw.Write(pngData.Bytes())
	mw.Close()

	coverPath := fmt.Sprintf("/books/%d/cover", book.ID)
	resp, err := p.client.Post(p.server.URL+coverPath, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Location"), "msg=") {
		t.Fatalf("upload: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = p.client.Get(p.server.URL + coverPath)
	if err != nil {
		t.Fatalf("get cover: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("expected JPEG cover, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	p.post(coverPath+"/delete", nil)
	resp, err = p.client.Get(p.server.URL + coverPath)
	if err != nil {
		t.Fatalf("get cover: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRoleAccess(t *testing.T) {
	p := newPortal(t)
	p.createUser("assistant", model.RoleAssistant)
	p.login("assistant")

	if status, _ := p.get("/users"); status != http.StatusForbidden {
		t.Errorf("assistant /users: expected 403, got %d", status)
	}
	if status, _ := p.get("/books/new"); status != http.StatusForbidden {
		t.Errorf("assistant /books/new: expected 403, got %d", status)
	}
	if status, _ := p.post("/books", url.Values{"isbn": {"1"}, "title": {"x"}, "author": {"y"}}); status != http.StatusForbidden {
		t.Errorf("assistant POST /books: expected 403, got %d", status)
	}
	if status, _ := p.get("/circulation"); status != http.StatusOK {
		t.Errorf("assistant /circulation: expected 200, got %d", status)
	}
}

func TestUserManagement(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")
	ctx := context.Background()

	_, location := p.post("/users", url.Values{"username": {"maja"}, "password": {"short"}, "role": {"librarian"}})
	if !strings.Contains(location, "err=") {
		t.Errorf("short password: expected error, got %q", location)
	}

	_, location = p.post("/users", url.Values{"username": {"maja"}, "password": {"dolgogeslo"}, "role": {"librarian"}})
	if !strings.Contains(location, "msg=") {
		t.Fatalf("create user: %q", location)
	}
	maja, _ := store.GetUserByUsername(ctx, p.db, "maja")
	if maja == nil || maja.Role != model.RoleLibrarian {
		t.Fatalf("unexpected user %+v", maja)
	}

	p.post(fmt.Sprintf("/users/%d/role", maja.ID), url.Values{"role": {"assistant"}})
	maja, _ = store.GetUser(ctx, p.db, maja.ID)
	if maja.Role != model.RoleAssistant {
		t.Errorf("expected assistant, got %s", maja.Role)
	}

	admin, _ := store.GetUserByUsername(ctx, p.db, "admin")
	_, location = p.post(fmt.Sprintf("/users/%d/delete", admin.ID), nil)
	if !strings.Contains(location, "err=") {
		t.Errorf("self-delete: expected error, got %q", location)
	}

	p.post(fmt.Sprintf("/users/%d/delete", maja.ID), nil)
	maja, _ = store.GetUser(ctx, p.db, maja.ID)
	if maja.DeletedAt == nil {
		t.Error("expected user to be deleted")
	}
}

func TestSettingsChangePassword(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")

	_, location := p.post("/settings", url.Values{
		"current_password": {"wrong"}, "new_password": {"novogeslo1"}, "confirm_password": {"novogeslo1"},
	})
	if !strings.Contains(location, "err=") {
		t.Errorf("wrong current password: expected error, got %q", location)
	}

	_, location = p.post("/settings", url.Values{
		"current_password": {"password"}, "new_password": {"novogeslo1"}, "confirm_password": {"novogeslo1"},
	})
	if !strings.Contains(location, "msg=") {
		t.Fatalf("change password: %q", location)
	}

	user, _ := store.GetUserByUsername(context.Background(), p.db, "admin")
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("novogeslo1")) != nil {
		t.Error("password was not changed")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")

	u, _ := url.Parse(p.server.URL)
	var session string
	for _, c := range p.client.Jar.Cookies(u) {
		if c.Name == cookieName {
			session = c.Value
		}
	}
	if session == "" {
		t.Fatal("no session cookie after login")
	}

	status, location := p.post("/logout", nil)
	if status != http.StatusSeeOther || location != "/login" {
		t.Fatalf("logout: %d %q", status, location)
	}

	// A copy of the old cookie no longer works.
	req, _ := http.NewRequest(http.MethodGet, p.server.URL+"/", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: session})
	resp, err := (&http.Client{CheckRedirect: p.client.CheckRedirect}).Do(req)
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Errorf("revoked token: expected redirect to /login, got %d", resp.StatusCode)
	}
}

func TestLoansCSV(t *testing.T) {
	p := newPortal(t)
	p.createUser("admin", model.RoleAdmin)
	p.login("admin")
	book, student := p.seed()
	p.post("/circulation/checkout", url.Values{"book_id": {fmt.Sprint(book.ID)}, "patron_id": {student.ExternalID}})

	resp, err := p.client.Get(p.server.URL + "/reports/loans.csv")
	if err != nil {
		t.Fatalf("GET csv: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d records", len(records))
	}
	row := records[1]
	if row[1] != book.ISBN || row[3] != student.ExternalID || row[5] != "admin" || row[8] != "" {
		t.Errorf("unexpected row %v", row)
	}
}
